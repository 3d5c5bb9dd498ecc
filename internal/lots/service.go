package lots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-erp/mise-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates lot registration and FEFO reads.
type Service struct {
	pool  *pgxpool.Pool
	audit AuditPort
}

// NewService builds Service.
func NewService(pool *pgxpool.Pool, audit AuditPort) *Service {
	return &Service{pool: pool, audit: audit}
}

// CreateInput describes a lot registration request.
type CreateInput struct {
	TenantID       int64
	ProductID      int64
	LocationID     int64
	LotNumber      string
	ExpiresAt      time.Time
	ManufacturedAt time.Time
	ActorID        int64
}

// Create registers a lot, rejecting duplicate labeled lots.
func (s *Service) Create(ctx context.Context, input CreateInput) (Lot, error) {
	if input.TenantID == 0 || input.ProductID == 0 || input.LocationID == 0 {
		return Lot{}, fmt.Errorf("%w: tenant, product and location required", shared.ErrValidation)
	}
	if !input.ExpiresAt.IsZero() && !input.ManufacturedAt.IsZero() && input.ExpiresAt.Before(input.ManufacturedAt) {
		return Lot{}, fmt.Errorf("%w: expiry precedes manufacture date", shared.ErrValidation)
	}
	lot := Lot{
		TenantID:       input.TenantID,
		ProductID:      input.ProductID,
		LocationID:     input.LocationID,
		LotNumber:      input.LotNumber,
		ExpiresAt:      input.ExpiresAt,
		ManufacturedAt: input.ManufacturedAt,
		ReceivedAt:     time.Now().UTC(),
	}
	id, err := NewStore(s.pool).Insert(ctx, lot)
	if err != nil {
		return Lot{}, err
	}
	lot.ID = id
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: input.TenantID,
			ActorID:  input.ActorID,
			Action:   "lots:create",
			Entity:   "lot",
			EntityID: fmt.Sprintf("%d", id),
			Meta: map[string]any{
				"product_id":  input.ProductID,
				"location_id": input.LocationID,
				"lot_number":  input.LotNumber,
			},
		})
	}
	return lot, nil
}

// ExpiringSoon lists lots with positive balance expiring within the window,
// across all tenants. Used by the expiry scan job.
func (s *Service) ExpiringSoon(ctx context.Context, window time.Duration) ([]LotBalance, error) {
	if window <= 0 {
		return nil, errors.New("lots: scan window must be positive")
	}
	return NewStore(s.pool).ExpiringBefore(ctx, time.Now().UTC().Add(window))
}

// PickOrder returns the FEFO consumption order for a product at a location.
func (s *Service) PickOrder(ctx context.Context, tenantID, productID, locationID int64) ([]LotBalance, error) {
	if tenantID == 0 || productID == 0 || locationID == 0 {
		return nil, errors.New("lots: tenant, product and location required")
	}
	return NewStore(s.pool).PickOrder(ctx, tenantID, productID, locationID)
}
