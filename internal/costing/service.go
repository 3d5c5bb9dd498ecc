package costing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// StorePort abstracts layer persistence for the tracker.
type StorePort interface {
	InsertLayer(ctx context.Context, input LayerInput) (Layer, error)
	OpenLayersForUpdate(ctx context.Context, tenantID, productID, locationID, lotID int64) ([]Layer, error)
	DecrementLayer(ctx context.Context, layerID int64, qty decimal.Decimal) error
	InsertConsumption(ctx context.Context, c Consumption) error
}

// Tracker implements FIFO cost layering over a store bound to the caller's
// transaction.
type Tracker struct {
	st StorePort
}

// NewTracker builds Tracker.
func NewTracker(st StorePort) *Tracker {
	return &Tracker{st: st}
}

// AddLayer seeds a layer whenever the ledger gains a costed receipt entry.
func (t *Tracker) AddLayer(ctx context.Context, input LayerInput) (Layer, error) {
	if input.TenantID == 0 || input.ProductID == 0 || input.LocationID == 0 {
		return Layer{}, errors.New("costing: tenant, product and location required")
	}
	if !input.Qty.IsPositive() {
		return Layer{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Layer{}, ErrInvalidUnitCost
	}
	return t.st.InsertLayer(ctx, input)
}

// Consume withdraws quantity from the key's layers oldest-first and returns
// the total cost attributed to the withdrawal. When the open layers cannot
// cover the full quantity the excess is costed at the last layer's unit cost;
// this masks a deeper invariant violation and only happens when the
// negative-stock guard is bypassed or stock is untracked. With no layers at
// all the withdrawal is costed at zero.
func (t *Tracker) Consume(ctx context.Context, input ConsumeInput) (decimal.Decimal, error) {
	if input.TenantID == 0 || input.ProductID == 0 || input.LocationID == 0 {
		return decimal.Zero, errors.New("costing: tenant, product and location required")
	}
	if !input.Qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	layers, err := t.st.OpenLayersForUpdate(ctx, input.TenantID, input.ProductID, input.LocationID, input.LotID)
	if err != nil {
		return decimal.Zero, err
	}

	draws, shortfall := drain(layers, input.Qty)
	total := decimal.Zero
	for _, d := range draws {
		if err := t.st.DecrementLayer(ctx, d.layerID, d.qty); err != nil {
			return decimal.Zero, err
		}
		if err := t.st.InsertConsumption(ctx, Consumption{
			LayerID: d.layerID,
			RefType: input.RefType,
			RefID:   input.RefID,
			Qty:     d.qty,
			Amount:  d.amount,
		}); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d.amount)
	}

	if shortfall.IsPositive() && len(layers) > 0 {
		last := layers[len(layers)-1]
		amount := shortfall.Mul(last.UnitCost)
		if err := t.st.InsertConsumption(ctx, Consumption{
			LayerID: last.ID,
			RefType: input.RefType,
			RefID:   input.RefID,
			Qty:     shortfall,
			Amount:  amount,
		}); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, nil
}

// draw is one planned withdrawal from one layer.
type draw struct {
	layerID int64
	qty     decimal.Decimal
	amount  decimal.Decimal
}

// drain plans FIFO withdrawals across the ordered layer worklist. It returns
// the per-layer draws and the quantity the layers could not cover.
func drain(layers []Layer, qty decimal.Decimal) ([]draw, decimal.Decimal) {
	remaining := qty
	draws := []draw{}
	for _, layer := range layers {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(layer.RemainingQty, remaining)
		if !take.IsPositive() {
			continue
		}
		draws = append(draws, draw{layerID: layer.ID, qty: take, amount: take.Mul(layer.UnitCost)})
		remaining = remaining.Sub(take)
	}
	return draws, remaining
}
