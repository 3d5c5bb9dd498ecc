package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/platform/db"
)

// Store persists ledger entries in PostgreSQL. It binds to a db.Querier so the
// same code runs against the pool or inside a posting transaction.
type Store struct {
	q db.Querier
}

// NewStore constructs Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// Append bulk-inserts entries. The ledger exposes no update or delete.
func (s *Store) Append(ctx context.Context, entries []Entry) error {
	if s == nil {
		return errors.New("ledger store not initialised")
	}
	for i := range entries {
		e := &entries[i]
		if e.Qty.IsZero() {
			return ErrInvalidQuantity
		}
		occurred := e.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		err := s.q.QueryRow(ctx, `INSERT INTO ledger_entries
(tenant_id, product_id, location_id, lot_id, occurred_at, movement, qty_delta, unit_cost, ref_type, ref_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id`,
			e.TenantID, e.ProductID, e.LocationID, nullInt(e.LotID), occurred, string(e.Movement),
			e.Qty, nullDecimal(e.UnitCost), e.RefType, e.RefID, e.Note, nullInt(e.CreatedBy)).Scan(&e.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Balance returns the signed sum of deltas for the key. LotID 0 sums across
// all lots, tracked and untracked.
func (s *Store) Balance(ctx context.Context, tenantID, productID, locationID, lotID int64) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, errors.New("ledger store not initialised")
	}
	var sum decimal.Decimal
	if lotID != 0 {
		err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0)
FROM ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3 AND lot_id=$4`,
			tenantID, productID, locationID, lotID).Scan(&sum)
		return sum, err
	}
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0)
FROM ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3`,
		tenantID, productID, locationID).Scan(&sum)
	return sum, err
}

// AverageCost derives the moving-average unit cost from all receipt entries
// for the key. Invalid when the key has never received costed stock.
func (s *Store) AverageCost(ctx context.Context, tenantID, productID, locationID int64) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, errors.New("ledger store not initialised")
	}
	var value, qty decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta * unit_cost), 0), COALESCE(SUM(qty_delta), 0)
FROM ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3
  AND movement IN ('RECEIVE','TRANSFER_IN','PRODUCTION_IN')
  AND qty_delta > 0 AND unit_cost IS NOT NULL`,
		tenantID, productID, locationID).Scan(&value, &qty)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if qty.IsZero() {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NullDecimal{Decimal: value.Div(qty), Valid: true}, nil
}

// EntriesByRef returns every entry posted by one document, oldest first.
func (s *Store) EntriesByRef(ctx context.Context, tenantID int64, refType string, refID int64) ([]Entry, error) {
	if s == nil {
		return nil, errors.New("ledger store not initialised")
	}
	rows, err := s.q.Query(ctx, `SELECT id, tenant_id, product_id, location_id, COALESCE(lot_id, 0), occurred_at, movement, qty_delta, unit_cost, ref_type, ref_id, note, COALESCE(created_by, 0), created_at
FROM ledger_entries
WHERE tenant_id=$1 AND ref_type=$2 AND ref_id=$3
ORDER BY id ASC`, tenantID, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.LocationID, &e.LotID, &e.OccurredAt, &e.Movement, &e.Qty, &e.UnitCost, &e.RefType, &e.RefID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// History pages through a key's entries, newest first.
func (s *Store) History(ctx context.Context, tenantID, productID, locationID int64, limit, offset int) ([]Entry, error) {
	if s == nil {
		return nil, errors.New("ledger store not initialised")
	}
	rows, err := s.q.Query(ctx, `SELECT id, tenant_id, product_id, location_id, COALESCE(lot_id, 0), occurred_at, movement, qty_delta, unit_cost, ref_type, ref_id, note, COALESCE(created_by, 0), created_at
FROM ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3
ORDER BY occurred_at DESC, id DESC
LIMIT $4 OFFSET $5`, tenantID, productID, locationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.LocationID, &e.LotID, &e.OccurredAt, &e.Movement, &e.Qty, &e.UnitCost, &e.RefType, &e.RefID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HistoryCount returns the total entry count for a key.
func (s *Store) HistoryCount(ctx context.Context, tenantID, productID, locationID int64) (int, error) {
	if s == nil {
		return 0, errors.New("ledger store not initialised")
	}
	var total int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*)
FROM ledger_entries
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3`,
		tenantID, productID, locationID).Scan(&total)
	return total, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullDecimal(value decimal.NullDecimal) any {
	if !value.Valid {
		return nil
	}
	return value.Decimal
}
