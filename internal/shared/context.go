package shared

import "context"

type identityContextKey struct{}

// Identity carries the tenant and acting user resolved by the upstream
// authentication layer.
type Identity struct {
	TenantID int64
	UserID   int64
}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
