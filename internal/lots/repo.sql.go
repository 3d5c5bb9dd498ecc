package lots

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mise-erp/mise-erp/internal/platform/db"
)

// Store persists lots in PostgreSQL.
type Store struct {
	q db.Querier
}

// NewStore constructs Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// Insert registers a lot. Labeled lots are unique per
// (tenant, product, location, lot_number).
func (s *Store) Insert(ctx context.Context, lot Lot) (int64, error) {
	if s == nil {
		return 0, errors.New("lots store not initialised")
	}
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO lots (tenant_id, product_id, location_id, lot_number, expires_at, manufactured_at, received_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		lot.TenantID, lot.ProductID, lot.LocationID, nullString(lot.LotNumber),
		nullTime(lot.ExpiresAt), nullTime(lot.ManufacturedAt), nullTime(lot.ReceivedAt)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateLot
		}
		return 0, err
	}
	return id, nil
}

// FindByNumber looks up a labeled lot.
func (s *Store) FindByNumber(ctx context.Context, tenantID, productID, locationID int64, lotNumber string) (Lot, error) {
	if s == nil {
		return Lot{}, errors.New("lots store not initialised")
	}
	var lot Lot
	err := s.q.QueryRow(ctx, `SELECT id, tenant_id, product_id, location_id, COALESCE(lot_number, ''), COALESCE(expires_at, 'epoch'), COALESCE(manufactured_at, 'epoch'), COALESCE(received_at, 'epoch'), created_at
FROM lots
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3 AND lot_number=$4`,
		tenantID, productID, locationID, lotNumber).
		Scan(&lot.ID, &lot.TenantID, &lot.ProductID, &lot.LocationID, &lot.LotNumber, &lot.ExpiresAt, &lot.ManufacturedAt, &lot.ReceivedAt, &lot.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return normalise(lot), nil
}

// Get fetches a lot by id.
func (s *Store) Get(ctx context.Context, tenantID, id int64) (Lot, error) {
	if s == nil {
		return Lot{}, errors.New("lots store not initialised")
	}
	var lot Lot
	err := s.q.QueryRow(ctx, `SELECT id, tenant_id, product_id, location_id, COALESCE(lot_number, ''), COALESCE(expires_at, 'epoch'), COALESCE(manufactured_at, 'epoch'), COALESCE(received_at, 'epoch'), created_at
FROM lots WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&lot.ID, &lot.TenantID, &lot.ProductID, &lot.LocationID, &lot.LotNumber, &lot.ExpiresAt, &lot.ManufacturedAt, &lot.ReceivedAt, &lot.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return normalise(lot), nil
}

// PickOrder returns lots with positive balance ordered for first-expiry-first-out
// picking: expiry ascending with unknown expiry last, tie-broken by lot id.
func (s *Store) PickOrder(ctx context.Context, tenantID, productID, locationID int64) ([]LotBalance, error) {
	if s == nil {
		return nil, errors.New("lots store not initialised")
	}
	rows, err := s.q.Query(ctx, `SELECT l.id, l.tenant_id, l.product_id, l.location_id, COALESCE(l.lot_number, ''), COALESCE(l.expires_at, 'epoch'), COALESCE(l.manufactured_at, 'epoch'), COALESCE(l.received_at, 'epoch'), l.created_at, SUM(e.qty_delta)
FROM lots l
JOIN ledger_entries e ON e.lot_id = l.id
WHERE l.tenant_id=$1 AND l.product_id=$2 AND l.location_id=$3
GROUP BY l.id
HAVING SUM(e.qty_delta) > 0
ORDER BY l.expires_at ASC NULLS LAST, l.id ASC`, tenantID, productID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []LotBalance{}
	for rows.Next() {
		var lb LotBalance
		if err := rows.Scan(&lb.Lot.ID, &lb.Lot.TenantID, &lb.Lot.ProductID, &lb.Lot.LocationID, &lb.Lot.LotNumber, &lb.Lot.ExpiresAt, &lb.Lot.ManufacturedAt, &lb.Lot.ReceivedAt, &lb.Lot.CreatedAt, &lb.Balance); err != nil {
			return nil, err
		}
		lb.Lot = normalise(lb.Lot)
		result = append(result, lb)
	}
	return result, rows.Err()
}

// ExpiringBefore lists lots with positive balance whose expiry falls before
// the cutoff, used by the expiry scan job.
func (s *Store) ExpiringBefore(ctx context.Context, cutoff time.Time) ([]LotBalance, error) {
	if s == nil {
		return nil, errors.New("lots store not initialised")
	}
	rows, err := s.q.Query(ctx, `SELECT l.id, l.tenant_id, l.product_id, l.location_id, COALESCE(l.lot_number, ''), l.expires_at, COALESCE(l.manufactured_at, 'epoch'), COALESCE(l.received_at, 'epoch'), l.created_at, SUM(e.qty_delta)
FROM lots l
JOIN ledger_entries e ON e.lot_id = l.id
WHERE l.expires_at IS NOT NULL AND l.expires_at < $1
GROUP BY l.id
HAVING SUM(e.qty_delta) > 0
ORDER BY l.expires_at ASC, l.id ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []LotBalance{}
	for rows.Next() {
		var lb LotBalance
		if err := rows.Scan(&lb.Lot.ID, &lb.Lot.TenantID, &lb.Lot.ProductID, &lb.Lot.LocationID, &lb.Lot.LotNumber, &lb.Lot.ExpiresAt, &lb.Lot.ManufacturedAt, &lb.Lot.ReceivedAt, &lb.Lot.CreatedAt, &lb.Balance); err != nil {
			return nil, err
		}
		lb.Lot = normalise(lb.Lot)
		result = append(result, lb)
	}
	return result, rows.Err()
}

// normalise maps the COALESCE('epoch') sentinel back to the zero time.
func normalise(lot Lot) Lot {
	epoch := time.Unix(0, 0).UTC()
	if lot.ExpiresAt.Equal(epoch) {
		lot.ExpiresAt = time.Time{}
	}
	if lot.ManufacturedAt.Equal(epoch) {
		lot.ManufacturedAt = time.Time{}
	}
	if lot.ReceivedAt.Equal(epoch) {
		lot.ReceivedAt = time.Time{}
	}
	return lot
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
