package costing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	layers       []Layer
	consumptions []Consumption
	nextID       int64
}

func (s *fakeStore) InsertLayer(ctx context.Context, input LayerInput) (Layer, error) {
	s.nextID++
	layer := Layer{
		ID:           s.nextID,
		TenantID:     input.TenantID,
		ProductID:    input.ProductID,
		LocationID:   input.LocationID,
		LotID:        input.LotID,
		RemainingQty: input.Qty,
		UnitCost:     input.UnitCost,
		SourceType:   input.SourceType,
		SourceID:     input.SourceID,
	}
	s.layers = append(s.layers, layer)
	return layer, nil
}

func (s *fakeStore) OpenLayersForUpdate(ctx context.Context, tenantID, productID, locationID, lotID int64) ([]Layer, error) {
	var open []Layer
	for _, l := range s.layers {
		if l.TenantID == tenantID && l.ProductID == productID && l.LocationID == locationID &&
			l.LotID == lotID && l.RemainingQty.IsPositive() {
			open = append(open, l)
		}
	}
	return open, nil
}

func (s *fakeStore) DecrementLayer(ctx context.Context, layerID int64, qty decimal.Decimal) error {
	for i := range s.layers {
		if s.layers[i].ID == layerID {
			s.layers[i].RemainingQty = s.layers[i].RemainingQty.Sub(qty)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) InsertConsumption(ctx context.Context, c Consumption) error {
	s.consumptions = append(s.consumptions, c)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seed(t *testing.T, tr *Tracker, qty, cost string) {
	t.Helper()
	_, err := tr.AddLayer(context.Background(), LayerInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec(qty), UnitCost: dec(cost),
		SourceType: "GRN", SourceID: 1,
	})
	require.NoError(t, err)
}

func TestConsumeDrainsOldestFirst(t *testing.T) {
	st := &fakeStore{}
	tr := NewTracker(st)
	seed(t, tr, "50", "2")
	seed(t, tr, "30", "3")

	total, err := tr.Consume(context.Background(), ConsumeInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec("60"), RefType: "ISS", RefID: 7,
	})
	require.NoError(t, err)
	// 50*2 + 10*3
	require.True(t, total.Equal(dec("130")), "got %s", total)

	require.Len(t, st.consumptions, 2)
	require.True(t, st.consumptions[0].Qty.Equal(dec("50")))
	require.True(t, st.consumptions[1].Qty.Equal(dec("10")))
	require.True(t, st.layers[0].RemainingQty.IsZero())
	require.True(t, st.layers[1].RemainingQty.Equal(dec("20")))
}

func TestConsumeShortfallCostedAtLastLayer(t *testing.T) {
	st := &fakeStore{}
	tr := NewTracker(st)
	seed(t, tr, "50", "2")

	total, err := tr.Consume(context.Background(), ConsumeInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec("60"), RefType: "ISS", RefID: 7,
	})
	require.NoError(t, err)
	// 50 covered at 2, the 10 shortfall also at 2
	require.True(t, total.Equal(dec("120")), "got %s", total)
	require.Len(t, st.consumptions, 2)
	require.True(t, st.consumptions[1].Qty.Equal(dec("10")))
	require.True(t, st.consumptions[1].Amount.Equal(dec("20")))
}

func TestConsumeWithoutLayersIsFree(t *testing.T) {
	tr := NewTracker(&fakeStore{})
	total, err := tr.Consume(context.Background(), ConsumeInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec("5"), RefType: "ISS", RefID: 7,
	})
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestConsumeIgnoresOtherKeys(t *testing.T) {
	st := &fakeStore{}
	tr := NewTracker(st)
	seed(t, tr, "50", "2")
	_, err := tr.AddLayer(context.Background(), LayerInput{
		TenantID: 1, ProductID: 10, LocationID: 2, Qty: dec("40"), UnitCost: dec("9"),
		SourceType: "GRN", SourceID: 2,
	})
	require.NoError(t, err)

	total, err := tr.Consume(context.Background(), ConsumeInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec("50"), RefType: "ISS", RefID: 7,
	})
	require.NoError(t, err)
	require.True(t, total.Equal(dec("100")))
	require.True(t, st.layers[1].RemainingQty.Equal(dec("40")), "layer at another location must be untouched")
}

func TestAddLayerValidation(t *testing.T) {
	tr := NewTracker(&fakeStore{})
	_, err := tr.AddLayer(context.Background(), LayerInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: decimal.Zero, UnitCost: dec("1"),
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = tr.AddLayer(context.Background(), LayerInput{
		TenantID: 1, ProductID: 10, LocationID: 1, Qty: dec("1"), UnitCost: dec("-1"),
	})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestDrainPlansExactCover(t *testing.T) {
	layers := []Layer{
		{ID: 1, RemainingQty: dec("50"), UnitCost: dec("2")},
		{ID: 2, RemainingQty: dec("30"), UnitCost: dec("3")},
	}
	draws, shortfall := drain(layers, dec("80"))
	require.True(t, shortfall.IsZero())
	require.Len(t, draws, 2)
	require.True(t, draws[0].amount.Equal(dec("100")))
	require.True(t, draws[1].amount.Equal(dec("90")))
}
