package posting

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DocStatus is the document lifecycle state. Posting is only legal from
// DRAFT; the status flip inside the posting transaction is what makes
// re-posting an invalid-state error instead of duplicate ledger rows.
type DocStatus string

const (
	StatusDraft     DocStatus = "DRAFT"
	StatusPosted    DocStatus = "POSTED"
	StatusCancelled DocStatus = "CANCELLED"
)

// Document type codes double as number prefixes and ledger ref types.
const (
	DocTypeGoodsReceipt = "GRN"
	DocTypeIssue        = "ISS"
	DocTypeProduction   = "PRD"
	DocTypeTransfer     = "TRF"
	DocTypeStockCount   = "CNT"
)

// GoodsReceipt records inbound stock from a supplier.
type GoodsReceipt struct {
	ID          int64
	TenantID    int64
	LocationID  int64
	Number      string
	Status      DocStatus
	SupplierRef string
	OccurredAt  time.Time
	CreatedBy   int64
	CreatedAt   time.Time
	Lines       []ReceiptLine
}

// ReceiptLine is one received product. A non-empty LotNumber registers (or
// reuses) a traceable lot; empty means untracked bulk stock.
type ReceiptLine struct {
	ID             int64
	ProductID      int64
	LotNumber      string
	ExpiresAt      time.Time
	ManufacturedAt time.Time
	Qty            decimal.Decimal
	UnitCost       decimal.Decimal
}

// IssueOrder records outbound stock, e.g. a sales or kitchen issue.
type IssueOrder struct {
	ID         int64
	TenantID   int64
	LocationID int64
	Number     string
	Status     DocStatus
	Reference  string
	OccurredAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
	Lines      []IssueLine
}

// IssueLine debits one product, optionally from a specific lot.
type IssueLine struct {
	ID        int64
	ProductID int64
	LotID     int64
	Qty       decimal.Decimal
}

// Recipe converts ingredient quantities into a finished good. YieldQty is the
// finished quantity one nominal batch produces.
type Recipe struct {
	ID        int64
	TenantID  int64
	ProductID int64
	Name      string
	YieldQty  decimal.Decimal
	Lines     []RecipeLine
}

// RecipeLine is one ingredient requirement per nominal batch.
type RecipeLine struct {
	ID           int64
	IngredientID int64
	Qty          decimal.Decimal
}

// ProductionOrder converts raw materials into ActualQty of the recipe's
// finished good at one location.
type ProductionOrder struct {
	ID         int64
	TenantID   int64
	LocationID int64
	Number     string
	Status     DocStatus
	RecipeID   int64
	ActualQty  decimal.Decimal
	OccurredAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
}

// Transfer moves stock between two locations of the same tenant.
type Transfer struct {
	ID            int64
	TenantID      int64
	SrcLocationID int64
	DstLocationID int64
	Number        string
	Status        DocStatus
	OccurredAt    time.Time
	CreatedBy     int64
	CreatedAt     time.Time
	Lines         []TransferLine
}

// TransferLine moves one product. ReceivedQty is recorded at the destination;
// when unset the requested quantity is assumed received in full.
type TransferLine struct {
	ID           int64
	ProductID    int64
	LotID        int64
	RequestedQty decimal.Decimal
	ReceivedQty  decimal.NullDecimal
}

// StockCount reconciles counted quantities against the ledger.
type StockCount struct {
	ID         int64
	TenantID   int64
	LocationID int64
	Number     string
	Status     DocStatus
	OccurredAt time.Time
	CreatedBy  int64
	CreatedAt  time.Time
	Lines      []CountLine
}

// CountLine carries the counted quantity and the system quantity snapshotted
// when the count sheet was prepared.
type CountLine struct {
	ID         int64
	ProductID  int64
	LotID      int64
	CountedQty decimal.Decimal
	SystemQty  decimal.Decimal
}

// ErrRecipeYield rejects production against a recipe whose yield would divide
// by zero or scale negatively.
var ErrRecipeYield = errors.New("posting: recipe yield must be positive")

// ErrEmptyDocument rejects documents with no lines.
var ErrEmptyDocument = errors.New("posting: document has no lines")

// ErrDocumentNotFound indicates the document id does not exist for the tenant.
var ErrDocumentNotFound = errors.New("posting: document not found")
