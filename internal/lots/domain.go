package lots

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Lot identifies a traceable batch of a product at a location. Zero-valued
// dates mean unknown; an empty LotNumber means the batch carries no label and
// is exempt from the uniqueness rule.
type Lot struct {
	ID             int64
	TenantID       int64
	ProductID      int64
	LocationID     int64
	LotNumber      string
	ExpiresAt      time.Time
	ManufacturedAt time.Time
	ReceivedAt     time.Time
	CreatedAt      time.Time
}

// LotBalance pairs a lot with its current on-hand quantity.
type LotBalance struct {
	Lot     Lot
	Balance decimal.Decimal
}

// ErrDuplicateLot indicates the (tenant, product, location, lot number) tuple
// already exists.
var ErrDuplicateLot = errors.New("lots: lot number already registered")

// ErrLotNotFound indicates a missing lot row.
var ErrLotNotFound = errors.New("lots: lot not found")
