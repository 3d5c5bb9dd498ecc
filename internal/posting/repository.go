package posting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/costing"
	"github.com/mise-erp/mise-erp/internal/ledger"
	"github.com/mise-erp/mise-erp/internal/lots"
	"github.com/mise-erp/mise-erp/internal/sequence"
)

// RepositoryPort abstracts repository usage for the posting service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGoodsReceipt(ctx context.Context, tenantID, id int64) (GoodsReceipt, error)
	GetIssueOrder(ctx context.Context, tenantID, id int64) (IssueOrder, error)
	GetProductionOrder(ctx context.Context, tenantID, id int64) (ProductionOrder, error)
	GetTransfer(ctx context.Context, tenantID, id int64) (Transfer, error)
	GetStockCount(ctx context.Context, tenantID, id int64) (StockCount, error)
	GetRecipe(ctx context.Context, tenantID, id int64) (Recipe, error)
}

// TxRepository is the write surface bound to one posting transaction. Every
// mutation a translator performs goes through this interface so the whole
// posting either commits or rolls back as one unit.
type TxRepository interface {
	NextNumber(ctx context.Context, scope sequence.Scope) (int64, error)

	InsertGoodsReceipt(ctx context.Context, doc GoodsReceipt) (GoodsReceipt, error)
	InsertIssueOrder(ctx context.Context, doc IssueOrder) (IssueOrder, error)
	InsertProductionOrder(ctx context.Context, doc ProductionOrder) (ProductionOrder, error)
	InsertTransfer(ctx context.Context, doc Transfer) (Transfer, error)
	InsertStockCount(ctx context.Context, doc StockCount) (StockCount, error)

	GetGoodsReceiptForUpdate(ctx context.Context, tenantID, id int64) (GoodsReceipt, error)
	GetIssueOrderForUpdate(ctx context.Context, tenantID, id int64) (IssueOrder, error)
	GetProductionOrderForUpdate(ctx context.Context, tenantID, id int64) (ProductionOrder, error)
	GetTransferForUpdate(ctx context.Context, tenantID, id int64) (Transfer, error)
	GetStockCountForUpdate(ctx context.Context, tenantID, id int64) (StockCount, error)
	GetRecipe(ctx context.Context, tenantID, id int64) (Recipe, error)

	SetStatus(ctx context.Context, docType string, tenantID, id int64, from, to DocStatus) error

	AppendEntries(ctx context.Context, entries []ledger.Entry) ([]ledger.Entry, error)
	VerifyBalances(ctx context.Context, g *ledger.Guard) error
	AverageCost(ctx context.Context, tenantID, productID, locationID int64) (decimal.NullDecimal, error)

	AddLayer(ctx context.Context, input costing.LayerInput) (costing.Layer, error)
	ConsumeLayers(ctx context.Context, input costing.ConsumeInput) (decimal.Decimal, error)

	EnsureLot(ctx context.Context, lot lots.Lot) (int64, error)
	GetLot(ctx context.Context, tenantID, id int64) (lots.Lot, error)
}
