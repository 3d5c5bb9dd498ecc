package costing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/platform/db"
)

// Store persists cost layers and their consumption history in PostgreSQL.
type Store struct {
	q db.Querier
}

// NewStore constructs Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// InsertLayer seeds a new FIFO layer.
func (s *Store) InsertLayer(ctx context.Context, input LayerInput) (Layer, error) {
	if s == nil {
		return Layer{}, errors.New("costing store not initialised")
	}
	layer := Layer{
		TenantID:     input.TenantID,
		ProductID:    input.ProductID,
		LocationID:   input.LocationID,
		LotID:        input.LotID,
		RemainingQty: input.Qty,
		UnitCost:     input.UnitCost,
		SourceType:   input.SourceType,
		SourceID:     input.SourceID,
	}
	err := s.q.QueryRow(ctx, `INSERT INTO cost_layers (tenant_id, product_id, location_id, lot_id, remaining_qty, unit_cost, source_type, source_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		input.TenantID, input.ProductID, input.LocationID, nullInt(input.LotID),
		input.Qty, input.UnitCost, input.SourceType, input.SourceID).Scan(&layer.ID, &layer.CreatedAt)
	if err != nil {
		return Layer{}, err
	}
	return layer, nil
}

// OpenLayersForUpdate returns unconsumed layers for the key in receipt order,
// row-locked for the duration of the consuming transaction.
func (s *Store) OpenLayersForUpdate(ctx context.Context, tenantID, productID, locationID, lotID int64) ([]Layer, error) {
	if s == nil {
		return nil, errors.New("costing store not initialised")
	}
	rows, err := s.q.Query(ctx, `SELECT id, tenant_id, product_id, location_id, COALESCE(lot_id, 0), remaining_qty, unit_cost, source_type, source_id, created_at
FROM cost_layers
WHERE tenant_id=$1 AND product_id=$2 AND location_id=$3 AND COALESCE(lot_id, 0)=$4 AND remaining_qty > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, tenantID, productID, locationID, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	layers := []Layer{}
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ProductID, &l.LocationID, &l.LotID, &l.RemainingQty, &l.UnitCost, &l.SourceType, &l.SourceID, &l.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// DecrementLayer reduces a layer's remaining quantity.
func (s *Store) DecrementLayer(ctx context.Context, layerID int64, qty decimal.Decimal) error {
	if s == nil {
		return errors.New("costing store not initialised")
	}
	_, err := s.q.Exec(ctx, `UPDATE cost_layers SET remaining_qty = remaining_qty - $2 WHERE id=$1`, layerID, qty)
	return err
}

// InsertConsumption appends one consumption record.
func (s *Store) InsertConsumption(ctx context.Context, c Consumption) error {
	if s == nil {
		return errors.New("costing store not initialised")
	}
	_, err := s.q.Exec(ctx, `INSERT INTO cost_layer_consumptions (layer_id, ref_type, ref_id, qty, amount, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())`, c.LayerID, c.RefType, c.RefID, c.Qty, c.Amount)
	return err
}

// PurgeExhausted deletes zero-balance layers older than the cutoff, after the
// audit retention window.
func (s *Store) PurgeExhausted(ctx context.Context, olderThanDays int) (int64, error) {
	if s == nil {
		return 0, errors.New("costing store not initialised")
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM cost_layers
WHERE remaining_qty <= 0 AND created_at < NOW() - make_interval(days => $1)`, olderThanDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
