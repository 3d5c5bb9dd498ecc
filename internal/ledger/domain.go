package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementReceive represents goods received from a supplier.
	MovementReceive MovementType = "RECEIVE"
	// MovementIssue represents stock issued against a sales or kitchen order.
	MovementIssue MovementType = "ISSUE"
	// MovementTransferOut is the source leg of an inter-location transfer.
	MovementTransferOut MovementType = "TRANSFER_OUT"
	// MovementTransferIn is the destination leg of an inter-location transfer.
	MovementTransferIn MovementType = "TRANSFER_IN"
	// MovementProductionIn books a finished good produced from a recipe.
	MovementProductionIn MovementType = "PRODUCTION_IN"
	// MovementProductionOut books raw material consumed by production.
	MovementProductionOut MovementType = "PRODUCTION_OUT"
	// MovementAdjustment books a stock count variance.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementCustomerReturn books goods returned by a customer.
	MovementCustomerReturn MovementType = "CUSTOMER_RETURN"
	// MovementSupplierReturn books goods sent back to a supplier.
	MovementSupplierReturn MovementType = "SUPPLIER_RETURN"
)

// Receipt reports whether the movement carries acquisition cost into stock.
// Receipt movements feed the moving-average calculation and seed cost layers.
func (m MovementType) Receipt() bool {
	switch m {
	case MovementReceive, MovementTransferIn, MovementProductionIn:
		return true
	}
	return false
}

// Entry is one immutable signed stock movement. Entries are only ever
// inserted; corrections are posted as new offsetting entries.
type Entry struct {
	ID         int64
	TenantID   int64
	ProductID  int64
	LocationID int64
	// LotID is 0 for untracked bulk stock.
	LotID      int64
	OccurredAt time.Time
	Movement   MovementType
	// Qty is the signed delta in the product's base unit. The sign is fixed
	// at write time by the posting translator, never inferred at read time.
	Qty       decimal.Decimal
	UnitCost  decimal.NullDecimal
	RefType   string
	RefID     int64
	Note      string
	CreatedBy int64
	CreatedAt time.Time
}

// Key identifies a stock balance. LotID 0 means the location-level balance
// across all lots.
type Key struct {
	TenantID   int64
	ProductID  int64
	LocationID int64
	LotID      int64
}

// ErrNegativeStock triggered when committed entries would drive a balance negative.
var ErrNegativeStock = errors.New("ledger: negative stock not allowed")

// ErrInvalidQuantity indicates a zero quantity delta.
var ErrInvalidQuantity = errors.New("ledger: quantity delta must be non zero")

// NegativeStockError reports which balance the guard rejected.
type NegativeStockError struct {
	Key     Key
	Balance decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	if e.Key.LotID != 0 {
		return fmt.Sprintf("ledger: negative stock for product %d at location %d lot %d (balance %s)",
			e.Key.ProductID, e.Key.LocationID, e.Key.LotID, e.Balance.String())
	}
	return fmt.Sprintf("ledger: negative stock for product %d at location %d (balance %s)",
		e.Key.ProductID, e.Key.LocationID, e.Balance.String())
}

// Is makes errors.Is(err, ErrNegativeStock) match.
func (e *NegativeStockError) Is(target error) bool {
	return target == ErrNegativeStock
}
