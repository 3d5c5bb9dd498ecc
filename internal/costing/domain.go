package costing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Layer is a still-unconsumed receipt slice used for FIFO costing. Remaining
// quantity only ever decreases; exhausted layers are kept as zero-balance rows
// until the purge job removes them.
type Layer struct {
	ID           int64
	TenantID     int64
	ProductID    int64
	LocationID   int64
	// LotID is 0 for untracked bulk stock.
	LotID        int64
	RemainingQty decimal.Decimal
	UnitCost     decimal.Decimal
	SourceType   string
	SourceID     int64
	CreatedAt    time.Time
}

// Consumption records one withdrawal from one layer. Append-only.
type Consumption struct {
	ID        int64
	LayerID   int64
	RefType   string
	RefID     int64
	Qty       decimal.Decimal
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// LayerInput seeds a new layer from a costed receipt entry.
type LayerInput struct {
	TenantID   int64
	ProductID  int64
	LocationID int64
	LotID      int64
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	SourceType string
	SourceID   int64
}

// ConsumeInput describes a FIFO withdrawal.
type ConsumeInput struct {
	TenantID   int64
	ProductID  int64
	LocationID int64
	LotID      int64
	Qty        decimal.Decimal
	RefType    string
	RefID      int64
}

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("costing: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost.
var ErrInvalidUnitCost = errors.New("costing: unit cost must be >= 0")
