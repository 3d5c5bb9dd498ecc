package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/shared"
)

// Service exposes the read surface of the ledger to handlers and jobs.
// Writes go exclusively through posting translators.
type Service struct {
	pool *pgxpool.Pool
}

// NewService builds Service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Balance computes on-hand quantity for a product at a location, optionally
// narrowed to one lot.
func (s *Service) Balance(ctx context.Context, tenantID, productID, locationID, lotID int64) (decimal.Decimal, error) {
	if tenantID == 0 || productID == 0 || locationID == 0 {
		return decimal.Zero, errors.New("ledger: tenant, product and location required")
	}
	return NewStore(s.pool).Balance(ctx, tenantID, productID, locationID, lotID)
}

// AverageCost computes the moving-average unit cost for a product at a location.
func (s *Service) AverageCost(ctx context.Context, tenantID, productID, locationID int64) (decimal.NullDecimal, error) {
	if tenantID == 0 || productID == 0 || locationID == 0 {
		return decimal.NullDecimal{}, errors.New("ledger: tenant, product and location required")
	}
	return NewStore(s.pool).AverageCost(ctx, tenantID, productID, locationID)
}

// History pages through a key's full movement history, newest first.
func (s *Service) History(ctx context.Context, tenantID, productID, locationID int64, page, perPage int) ([]Entry, shared.Pagination, error) {
	if tenantID == 0 || productID == 0 || locationID == 0 {
		return nil, shared.Pagination{}, errors.New("ledger: tenant, product and location required")
	}
	store := NewStore(s.pool)
	total, err := store.HistoryCount(ctx, tenantID, productID, locationID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)
	entries, err := store.History(ctx, tenantID, productID, locationID, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, p, nil
}

// Movements lists the entries a document produced, for audit lookups.
func (s *Service) Movements(ctx context.Context, tenantID int64, refType string, refID int64) ([]Entry, error) {
	if tenantID == 0 || refType == "" || refID == 0 {
		return nil, errors.New("ledger: tenant and document reference required")
	}
	return NewStore(s.pool).EntriesByRef(ctx, tenantID, refType, refID)
}
