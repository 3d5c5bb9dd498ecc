package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceReader is the query surface the guard aggregates over. Inside a
// posting transaction it must see that transaction's own uncommitted entries.
type BalanceReader interface {
	Balance(ctx context.Context, tenantID, productID, locationID, lotID int64) (decimal.Decimal, error)
}

// Guard is the deferred non-negative-stock invariant check. A posting
// transaction observes every entry it stages and calls Verify as the last
// statement before commit. The check aggregates the full entry history per
// key rather than trusting any cached balance; the ledger is the single
// source of truth.
type Guard struct {
	keys map[Key]struct{}
}

// NewGuard constructs an empty Guard.
func NewGuard() *Guard {
	return &Guard{keys: make(map[Key]struct{})}
}

// Observe records the balance keys touched by staged entries. Every entry
// contributes its location-level key; lot-tracked entries additionally
// contribute their lot-level key.
func (g *Guard) Observe(entries ...Entry) {
	for _, e := range entries {
		g.keys[Key{TenantID: e.TenantID, ProductID: e.ProductID, LocationID: e.LocationID}] = struct{}{}
		if e.LotID != 0 {
			g.keys[Key{TenantID: e.TenantID, ProductID: e.ProductID, LocationID: e.LocationID, LotID: e.LotID}] = struct{}{}
		}
	}
}

// Verify re-aggregates the balance for each observed key and returns a
// NegativeStockError for the first key whose historical sum is negative.
// Multiple entries within the transaction may net out to a legal balance,
// which is why the check runs once at commit time instead of per row.
func (g *Guard) Verify(ctx context.Context, r BalanceReader) error {
	for _, key := range g.sortedKeys() {
		balance, err := r.Balance(ctx, key.TenantID, key.ProductID, key.LocationID, key.LotID)
		if err != nil {
			return err
		}
		if balance.IsNegative() {
			return &NegativeStockError{Key: key, Balance: balance}
		}
	}
	return nil
}

// sortedKeys keeps verification order deterministic for error reporting.
func (g *Guard) sortedKeys() []Key {
	keys := make([]Key, 0, len(g.keys))
	for key := range g.keys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.LotID < b.LotID
	})
	return keys
}
