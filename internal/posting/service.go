package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/costing"
	"github.com/mise-erp/mise-erp/internal/ledger"
	"github.com/mise-erp/mise-erp/internal/lots"
	"github.com/mise-erp/mise-erp/internal/sequence"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort abstracts the engine counters.
type MetricsPort interface {
	PostingCommitted(docType string)
	NegativeStockRejected()
	SequenceRetryExhausted()
}

// CacheInvalidator drops cached FEFO pick orders for keys a posting touched.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID, productID, locationID int64) error
}

// Service coordinates document creation and posting. Each Post* method is one
// translator: it turns a draft document into ledger entries inside a single
// transaction, with the negative-stock check as the last statement before
// commit.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MetricsPort
	cache       CacheInvalidator
}

// NewService builds Service. Audit, idempotency, metrics and cache are
// optional collaborators.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics MetricsPort, cache CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, cache: cache}
}


// ReceiptLineInput describes one received product.
type ReceiptLineInput struct {
	ProductID      int64           `json:"product_id" validate:"required"`
	LotNumber      string          `json:"lot_number"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ManufacturedAt time.Time       `json:"manufactured_at"`
	Qty            decimal.Decimal `json:"qty" validate:"required"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
}

// CreateReceiptInput describes a draft goods receipt.
type CreateReceiptInput struct {
	TenantID    int64
	LocationID  int64
	SupplierRef string
	OccurredAt  time.Time
	ActorID     int64
	Lines       []ReceiptLineInput
}

// CreateGoodsReceipt allocates a document number and stores a draft receipt.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateReceiptInput) (GoodsReceipt, error) {
	if input.TenantID == 0 || input.LocationID == 0 {
		return GoodsReceipt{}, fmt.Errorf("%w: tenant and location required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, ErrEmptyDocument
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || !line.Qty.IsPositive() {
			return GoodsReceipt{}, fmt.Errorf("%w: receipt lines need a product and a positive quantity", shared.ErrValidation)
		}
		if line.UnitCost.IsNegative() {
			return GoodsReceipt{}, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
		}
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var doc GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.allocateNumber(ctx, tx, input.TenantID, DocTypeGoodsReceipt, occurred, input.LocationID)
		if err != nil {
			return err
		}
		doc = GoodsReceipt{
			TenantID:    input.TenantID,
			LocationID:  input.LocationID,
			Number:      number,
			Status:      StatusDraft,
			SupplierRef: input.SupplierRef,
			OccurredAt:  occurred,
			CreatedBy:   input.ActorID,
		}
		for _, line := range input.Lines {
			doc.Lines = append(doc.Lines, ReceiptLine{
				ProductID:      line.ProductID,
				LotNumber:      line.LotNumber,
				ExpiresAt:      line.ExpiresAt,
				ManufacturedAt: line.ManufacturedAt,
				Qty:            line.Qty,
				UnitCost:       line.UnitCost,
			})
		}
		doc, err = tx.InsertGoodsReceipt(ctx, doc)
		return err
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "posting:create", "goods_receipt", doc.ID, map[string]any{"number": doc.Number})
	return doc, nil
}

// IssueLineInput debits one product, optionally from a specific lot.
type IssueLineInput struct {
	ProductID int64           `json:"product_id" validate:"required"`
	LotID     int64           `json:"lot_id"`
	Qty       decimal.Decimal `json:"qty" validate:"required"`
}

// CreateIssueInput describes a draft issue order.
type CreateIssueInput struct {
	TenantID   int64
	LocationID int64
	Reference  string
	OccurredAt time.Time
	ActorID    int64
	Lines      []IssueLineInput
}

// CreateIssueOrder allocates a document number and stores a draft issue order.
func (s *Service) CreateIssueOrder(ctx context.Context, input CreateIssueInput) (IssueOrder, error) {
	if input.TenantID == 0 || input.LocationID == 0 {
		return IssueOrder{}, fmt.Errorf("%w: tenant and location required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return IssueOrder{}, ErrEmptyDocument
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || !line.Qty.IsPositive() {
			return IssueOrder{}, fmt.Errorf("%w: issue lines need a product and a positive quantity", shared.ErrValidation)
		}
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var doc IssueOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.allocateNumber(ctx, tx, input.TenantID, DocTypeIssue, occurred, input.LocationID)
		if err != nil {
			return err
		}
		doc = IssueOrder{
			TenantID:   input.TenantID,
			LocationID: input.LocationID,
			Number:     number,
			Status:     StatusDraft,
			Reference:  input.Reference,
			OccurredAt: occurred,
			CreatedBy:  input.ActorID,
		}
		for _, line := range input.Lines {
			doc.Lines = append(doc.Lines, IssueLine{ProductID: line.ProductID, LotID: line.LotID, Qty: line.Qty})
		}
		doc, err = tx.InsertIssueOrder(ctx, doc)
		return err
	})
	if err != nil {
		return IssueOrder{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "posting:create", "issue_order", doc.ID, map[string]any{"number": doc.Number})
	return doc, nil
}

// CreateProductionInput describes a draft production order.
type CreateProductionInput struct {
	TenantID   int64
	LocationID int64
	RecipeID   int64
	ActualQty  decimal.Decimal
	OccurredAt time.Time
	ActorID    int64
}

// CreateProductionOrder allocates a document number and stores a draft
// production order. The recipe must exist; yield is validated at posting time
// so a recipe fixed between create and post still posts.
func (s *Service) CreateProductionOrder(ctx context.Context, input CreateProductionInput) (ProductionOrder, error) {
	if input.TenantID == 0 || input.LocationID == 0 || input.RecipeID == 0 {
		return ProductionOrder{}, fmt.Errorf("%w: tenant, location and recipe required", shared.ErrValidation)
	}
	if !input.ActualQty.IsPositive() {
		return ProductionOrder{}, fmt.Errorf("%w: produced quantity must be positive", shared.ErrValidation)
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var doc ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetRecipe(ctx, input.TenantID, input.RecipeID); err != nil {
			return err
		}
		number, err := s.allocateNumber(ctx, tx, input.TenantID, DocTypeProduction, occurred, input.LocationID)
		if err != nil {
			return err
		}
		doc = ProductionOrder{
			TenantID:   input.TenantID,
			LocationID: input.LocationID,
			Number:     number,
			Status:     StatusDraft,
			RecipeID:   input.RecipeID,
			ActualQty:  input.ActualQty,
			OccurredAt: occurred,
			CreatedBy:  input.ActorID,
		}
		doc, err = tx.InsertProductionOrder(ctx, doc)
		return err
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "posting:create", "production_order", doc.ID, map[string]any{"number": doc.Number})
	return doc, nil
}

// TransferLineInput moves one product between the transfer's locations.
type TransferLineInput struct {
	ProductID    int64               `json:"product_id" validate:"required"`
	LotID        int64               `json:"lot_id"`
	RequestedQty decimal.Decimal     `json:"requested_qty" validate:"required"`
	ReceivedQty  decimal.NullDecimal `json:"received_qty"`
}

// CreateTransferInput describes a draft transfer.
type CreateTransferInput struct {
	TenantID      int64
	SrcLocationID int64
	DstLocationID int64
	OccurredAt    time.Time
	ActorID       int64
	Lines         []TransferLineInput
}

// CreateTransfer allocates a document number and stores a draft transfer.
func (s *Service) CreateTransfer(ctx context.Context, input CreateTransferInput) (Transfer, error) {
	if input.TenantID == 0 || input.SrcLocationID == 0 || input.DstLocationID == 0 {
		return Transfer{}, fmt.Errorf("%w: tenant and both locations required", shared.ErrValidation)
	}
	if input.SrcLocationID == input.DstLocationID {
		return Transfer{}, fmt.Errorf("%w: source and destination must differ", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Transfer{}, ErrEmptyDocument
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || !line.RequestedQty.IsPositive() {
			return Transfer{}, fmt.Errorf("%w: transfer lines need a product and a positive quantity", shared.ErrValidation)
		}
		if line.ReceivedQty.Valid && line.ReceivedQty.Decimal.IsNegative() {
			return Transfer{}, fmt.Errorf("%w: received quantity must be >= 0", shared.ErrValidation)
		}
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var doc Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.allocateNumber(ctx, tx, input.TenantID, DocTypeTransfer, occurred, input.SrcLocationID)
		if err != nil {
			return err
		}
		doc = Transfer{
			TenantID:      input.TenantID,
			SrcLocationID: input.SrcLocationID,
			DstLocationID: input.DstLocationID,
			Number:        number,
			Status:        StatusDraft,
			OccurredAt:    occurred,
			CreatedBy:     input.ActorID,
		}
		for _, line := range input.Lines {
			doc.Lines = append(doc.Lines, TransferLine{
				ProductID:    line.ProductID,
				LotID:        line.LotID,
				RequestedQty: line.RequestedQty,
				ReceivedQty:  line.ReceivedQty,
			})
		}
		doc, err = tx.InsertTransfer(ctx, doc)
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "posting:create", "transfer", doc.ID, map[string]any{"number": doc.Number})
	return doc, nil
}

// CountLineInput records a counted quantity against the system snapshot.
type CountLineInput struct {
	ProductID  int64           `json:"product_id" validate:"required"`
	LotID      int64           `json:"lot_id"`
	CountedQty decimal.Decimal `json:"counted_qty"`
	SystemQty  decimal.Decimal `json:"system_qty"`
}

// CreateCountInput describes a draft stock count.
type CreateCountInput struct {
	TenantID   int64
	LocationID int64
	OccurredAt time.Time
	ActorID    int64
	Lines      []CountLineInput
}

// CreateStockCount allocates a document number and stores a draft count.
func (s *Service) CreateStockCount(ctx context.Context, input CreateCountInput) (StockCount, error) {
	if input.TenantID == 0 || input.LocationID == 0 {
		return StockCount{}, fmt.Errorf("%w: tenant and location required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return StockCount{}, ErrEmptyDocument
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.CountedQty.IsNegative() {
			return StockCount{}, fmt.Errorf("%w: count lines need a product and a non-negative counted quantity", shared.ErrValidation)
		}
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var doc StockCount
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.allocateNumber(ctx, tx, input.TenantID, DocTypeStockCount, occurred, input.LocationID)
		if err != nil {
			return err
		}
		doc = StockCount{
			TenantID:   input.TenantID,
			LocationID: input.LocationID,
			Number:     number,
			Status:     StatusDraft,
			OccurredAt: occurred,
			CreatedBy:  input.ActorID,
		}
		for _, line := range input.Lines {
			doc.Lines = append(doc.Lines, CountLine{
				ProductID:  line.ProductID,
				LotID:      line.LotID,
				CountedQty: line.CountedQty,
				SystemQty:  line.SystemQty,
			})
		}
		doc, err = tx.InsertStockCount(ctx, doc)
		return err
	})
	if err != nil {
		return StockCount{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "posting:create", "stock_count", doc.ID, map[string]any{"number": doc.Number})
	return doc, nil
}

// PostGoodsReceipt books a draft receipt: one RECEIVE entry and one cost
// layer per line, registering labeled lots on first sight.
func (s *Service) PostGoodsReceipt(ctx context.Context, tenantID, receiptID, userID int64) (GoodsReceipt, error) {
	var doc GoodsReceipt
	var entries []ledger.Entry
	err := s.post(ctx, DocTypeGoodsReceipt, tenantID, receiptID, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries = nil // the transaction may re-run after a serialization abort
		doc, err = tx.GetGoodsReceiptForUpdate(ctx, tenantID, receiptID)
		if err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyDocument
		}
		if err := tx.SetStatus(ctx, DocTypeGoodsReceipt, tenantID, doc.ID, StatusDraft, StatusPosted); err != nil {
			return err
		}
		guard := ledger.NewGuard()
		for _, line := range doc.Lines {
			lotID := int64(0)
			if line.LotNumber != "" {
				lotID, err = tx.EnsureLot(ctx, lots.Lot{
					TenantID:       doc.TenantID,
					ProductID:      line.ProductID,
					LocationID:     doc.LocationID,
					LotNumber:      line.LotNumber,
					ExpiresAt:      line.ExpiresAt,
					ManufacturedAt: line.ManufacturedAt,
					ReceivedAt:     doc.OccurredAt,
				})
				if err != nil {
					return err
				}
			}
			entries = append(entries, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.LocationID,
				LotID:      lotID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementReceive,
				Qty:        line.Qty,
				UnitCost:   decimal.NullDecimal{Decimal: line.UnitCost, Valid: true},
				RefType:    DocTypeGoodsReceipt,
				RefID:      doc.ID,
				CreatedBy:  userID,
			})
			if _, err := tx.AddLayer(ctx, costing.LayerInput{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.LocationID,
				LotID:      lotID,
				Qty:        line.Qty,
				UnitCost:   line.UnitCost,
				SourceType: DocTypeGoodsReceipt,
				SourceID:   doc.ID,
			}); err != nil {
				return err
			}
		}
		entries, err = tx.AppendEntries(ctx, entries)
		if err != nil {
			return err
		}
		guard.Observe(entries...)
		return tx.VerifyBalances(ctx, guard)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	doc.Status = StatusPosted
	s.afterPost(ctx, DocTypeGoodsReceipt, doc.TenantID, doc.ID, doc.Number, userID, entries)
	return doc, nil
}

// PostOrderIssue books a draft issue order: one negative ISSUE entry per line
// costed at the location's moving average at issue time.
func (s *Service) PostOrderIssue(ctx context.Context, tenantID, orderID, userID int64) (IssueOrder, error) {
	var doc IssueOrder
	var entries []ledger.Entry
	err := s.post(ctx, DocTypeIssue, tenantID, orderID, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries = nil
		doc, err = tx.GetIssueOrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyDocument
		}
		if err := tx.SetStatus(ctx, DocTypeIssue, tenantID, doc.ID, StatusDraft, StatusPosted); err != nil {
			return err
		}
		guard := ledger.NewGuard()
		for _, line := range doc.Lines {
			avg, err := tx.AverageCost(ctx, doc.TenantID, line.ProductID, doc.LocationID)
			if err != nil {
				return err
			}
			entries = append(entries, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.LocationID,
				LotID:      line.LotID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementIssue,
				Qty:        line.Qty.Neg(),
				UnitCost:   avg,
				RefType:    DocTypeIssue,
				RefID:      doc.ID,
				CreatedBy:  userID,
			})
			// Layers track remaining quantity for FIFO valuation; the entry
			// itself is costed at the moving average.
			if _, err := tx.ConsumeLayers(ctx, costing.ConsumeInput{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.LocationID,
				LotID:      line.LotID,
				Qty:        line.Qty,
				RefType:    DocTypeIssue,
				RefID:      doc.ID,
			}); err != nil {
				return err
			}
		}
		entries, err = tx.AppendEntries(ctx, entries)
		if err != nil {
			return err
		}
		guard.Observe(entries...)
		return tx.VerifyBalances(ctx, guard)
	})
	if err != nil {
		return IssueOrder{}, err
	}
	doc.Status = StatusPosted
	s.afterPost(ctx, DocTypeIssue, doc.TenantID, doc.ID, doc.Number, userID, entries)
	return doc, nil
}

// PostProduction books a draft production order: one PRODUCTION_OUT entry per
// recipe ingredient scaled by actual/yield, and one PRODUCTION_IN entry for
// the finished good costed at total consumption divided by actual quantity.
func (s *Service) PostProduction(ctx context.Context, tenantID, orderID, userID int64) (ProductionOrder, error) {
	var doc ProductionOrder
	var entries []ledger.Entry
	err := s.post(ctx, DocTypeProduction, tenantID, orderID, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries = nil
		doc, err = tx.GetProductionOrderForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		recipe, err := tx.GetRecipe(ctx, tenantID, doc.RecipeID)
		if err != nil {
			return err
		}
		if len(recipe.Lines) == 0 {
			return ErrEmptyDocument
		}
		if !recipe.YieldQty.IsPositive() {
			return ErrRecipeYield
		}
		if !doc.ActualQty.IsPositive() {
			return fmt.Errorf("%w: produced quantity must be positive", shared.ErrValidation)
		}
		if err := tx.SetStatus(ctx, DocTypeProduction, tenantID, doc.ID, StatusDraft, StatusPosted); err != nil {
			return err
		}
		// The scale factor is computed once and reused for every ingredient.
		scale := doc.ActualQty.Div(recipe.YieldQty)
		totalConsumed := decimal.Zero
		guard := ledger.NewGuard()
		for _, line := range recipe.Lines {
			qty := line.Qty.Mul(scale)
			avg, err := tx.AverageCost(ctx, doc.TenantID, line.IngredientID, doc.LocationID)
			if err != nil {
				return err
			}
			if avg.Valid {
				totalConsumed = totalConsumed.Add(qty.Mul(avg.Decimal))
			}
			entries = append(entries, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.IngredientID,
				LocationID: doc.LocationID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementProductionOut,
				Qty:        qty.Neg(),
				UnitCost:   avg,
				RefType:    DocTypeProduction,
				RefID:      doc.ID,
				CreatedBy:  userID,
			})
			if _, err := tx.ConsumeLayers(ctx, costing.ConsumeInput{
				TenantID:   doc.TenantID,
				ProductID:  line.IngredientID,
				LocationID: doc.LocationID,
				Qty:        qty,
				RefType:    DocTypeProduction,
				RefID:      doc.ID,
			}); err != nil {
				return err
			}
		}
		finishedCost := totalConsumed.Div(doc.ActualQty)
		entries = append(entries, ledger.Entry{
			TenantID:   doc.TenantID,
			ProductID:  recipe.ProductID,
			LocationID: doc.LocationID,
			OccurredAt: doc.OccurredAt,
			Movement:   ledger.MovementProductionIn,
			Qty:        doc.ActualQty,
			UnitCost:   decimal.NullDecimal{Decimal: finishedCost, Valid: true},
			RefType:    DocTypeProduction,
			RefID:      doc.ID,
			CreatedBy:  userID,
		})
		if _, err := tx.AddLayer(ctx, costing.LayerInput{
			TenantID:   doc.TenantID,
			ProductID:  recipe.ProductID,
			LocationID: doc.LocationID,
			Qty:        doc.ActualQty,
			UnitCost:   finishedCost,
			SourceType: DocTypeProduction,
			SourceID:   doc.ID,
		}); err != nil {
			return err
		}
		entries, err = tx.AppendEntries(ctx, entries)
		if err != nil {
			return err
		}
		guard.Observe(entries...)
		return tx.VerifyBalances(ctx, guard)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	doc.Status = StatusPosted
	s.afterPost(ctx, DocTypeProduction, doc.TenantID, doc.ID, doc.Number, userID, entries)
	return doc, nil
}

// PostTransfer books a draft transfer: per line a negative TRANSFER_OUT entry
// at the source and a positive TRANSFER_IN entry at the destination sharing
// the same reference. The in-leg quantity is the received quantity when
// recorded, otherwise the requested quantity; its unit cost is the source
// location's moving average read inside this transaction.
func (s *Service) PostTransfer(ctx context.Context, tenantID, transferID, userID int64) (Transfer, error) {
	var doc Transfer
	var entries []ledger.Entry
	err := s.post(ctx, DocTypeTransfer, tenantID, transferID, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries = nil
		doc, err = tx.GetTransferForUpdate(ctx, tenantID, transferID)
		if err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyDocument
		}
		if err := tx.SetStatus(ctx, DocTypeTransfer, tenantID, doc.ID, StatusDraft, StatusPosted); err != nil {
			return err
		}
		guard := ledger.NewGuard()
		for _, line := range doc.Lines {
			inQty := line.RequestedQty
			if line.ReceivedQty.Valid {
				inQty = line.ReceivedQty.Decimal
			}
			avg, err := tx.AverageCost(ctx, doc.TenantID, line.ProductID, doc.SrcLocationID)
			if err != nil {
				return err
			}
			dstLotID := int64(0)
			if line.LotID != 0 {
				srcLot, err := tx.GetLot(ctx, doc.TenantID, line.LotID)
				if err != nil {
					return err
				}
				dstLotID, err = tx.EnsureLot(ctx, lots.Lot{
					TenantID:       doc.TenantID,
					ProductID:      srcLot.ProductID,
					LocationID:     doc.DstLocationID,
					LotNumber:      srcLot.LotNumber,
					ExpiresAt:      srcLot.ExpiresAt,
					ManufacturedAt: srcLot.ManufacturedAt,
					ReceivedAt:     doc.OccurredAt,
				})
				if err != nil {
					return err
				}
			}
			entries = append(entries, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.SrcLocationID,
				LotID:      line.LotID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementTransferOut,
				Qty:        line.RequestedQty.Neg(),
				UnitCost:   avg,
				RefType:    DocTypeTransfer,
				RefID:      doc.ID,
				CreatedBy:  userID,
			}, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.DstLocationID,
				LotID:      dstLotID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementTransferIn,
				Qty:        inQty,
				UnitCost:   avg,
				RefType:    DocTypeTransfer,
				RefID:      doc.ID,
				CreatedBy:  userID,
			})
			if _, err := tx.ConsumeLayers(ctx, costing.ConsumeInput{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.SrcLocationID,
				LotID:      line.LotID,
				Qty:        line.RequestedQty,
				RefType:    DocTypeTransfer,
				RefID:      doc.ID,
			}); err != nil {
				return err
			}
			if avg.Valid && inQty.IsPositive() {
				if _, err := tx.AddLayer(ctx, costing.LayerInput{
					TenantID:   doc.TenantID,
					ProductID:  line.ProductID,
					LocationID: doc.DstLocationID,
					LotID:      dstLotID,
					Qty:        inQty,
					UnitCost:   avg.Decimal,
					SourceType: DocTypeTransfer,
					SourceID:   doc.ID,
				}); err != nil {
					return err
				}
			}
		}
		entries, err = tx.AppendEntries(ctx, entries)
		if err != nil {
			return err
		}
		guard.Observe(entries...)
		return tx.VerifyBalances(ctx, guard)
	})
	if err != nil {
		return Transfer{}, err
	}
	doc.Status = StatusPosted
	s.afterPost(ctx, DocTypeTransfer, doc.TenantID, doc.ID, doc.Number, userID, entries)
	return doc, nil
}

// PostStockCount books a draft count: one ADJUSTMENT entry per line whose
// counted quantity differs from the system quantity, signed counted - system.
// Zero-variance lines produce no entry.
func (s *Service) PostStockCount(ctx context.Context, tenantID, countID, userID int64) (StockCount, error) {
	var doc StockCount
	var entries []ledger.Entry
	err := s.post(ctx, DocTypeStockCount, tenantID, countID, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries = nil
		doc, err = tx.GetStockCountForUpdate(ctx, tenantID, countID)
		if err != nil {
			return err
		}
		if len(doc.Lines) == 0 {
			return ErrEmptyDocument
		}
		if err := tx.SetStatus(ctx, DocTypeStockCount, tenantID, doc.ID, StatusDraft, StatusPosted); err != nil {
			return err
		}
		guard := ledger.NewGuard()
		for _, line := range doc.Lines {
			variance := line.CountedQty.Sub(line.SystemQty)
			if variance.IsZero() {
				continue
			}
			entries = append(entries, ledger.Entry{
				TenantID:   doc.TenantID,
				ProductID:  line.ProductID,
				LocationID: doc.LocationID,
				LotID:      line.LotID,
				OccurredAt: doc.OccurredAt,
				Movement:   ledger.MovementAdjustment,
				Qty:        variance,
				RefType:    DocTypeStockCount,
				RefID:      doc.ID,
				CreatedBy:  userID,
			})
			if variance.IsNegative() {
				if _, err := tx.ConsumeLayers(ctx, costing.ConsumeInput{
					TenantID:   doc.TenantID,
					ProductID:  line.ProductID,
					LocationID: doc.LocationID,
					LotID:      line.LotID,
					Qty:        variance.Neg(),
					RefType:    DocTypeStockCount,
					RefID:      doc.ID,
				}); err != nil {
					return err
				}
			} else {
				// Surplus stock found by the count gets a layer at the key's
				// moving average so it is tracked like any other inbound leg.
				avg, err := tx.AverageCost(ctx, doc.TenantID, line.ProductID, doc.LocationID)
				if err != nil {
					return err
				}
				unitCost := decimal.Zero
				if avg.Valid {
					unitCost = avg.Decimal
				}
				if _, err := tx.AddLayer(ctx, costing.LayerInput{
					TenantID:   doc.TenantID,
					ProductID:  line.ProductID,
					LocationID: doc.LocationID,
					LotID:      line.LotID,
					Qty:        variance,
					UnitCost:   unitCost,
					SourceType: DocTypeStockCount,
					SourceID:   doc.ID,
				}); err != nil {
					return err
				}
			}
		}
		if len(entries) == 0 {
			return nil
		}
		entries, err = tx.AppendEntries(ctx, entries)
		if err != nil {
			return err
		}
		guard.Observe(entries...)
		return tx.VerifyBalances(ctx, guard)
	})
	if err != nil {
		return StockCount{}, err
	}
	doc.Status = StatusPosted
	s.afterPost(ctx, DocTypeStockCount, doc.TenantID, doc.ID, doc.Number, userID, entries)
	return doc, nil
}

// GetGoodsReceipt returns a receipt with lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	return s.repo.GetGoodsReceipt(ctx, tenantID, id)
}

// GetIssueOrder returns an issue order with lines.
func (s *Service) GetIssueOrder(ctx context.Context, tenantID, id int64) (IssueOrder, error) {
	return s.repo.GetIssueOrder(ctx, tenantID, id)
}

// GetProductionOrder returns a production order.
func (s *Service) GetProductionOrder(ctx context.Context, tenantID, id int64) (ProductionOrder, error) {
	return s.repo.GetProductionOrder(ctx, tenantID, id)
}

// GetTransfer returns a transfer with lines.
func (s *Service) GetTransfer(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, tenantID, id)
}

// GetStockCount returns a stock count with lines.
func (s *Service) GetStockCount(ctx context.Context, tenantID, id int64) (StockCount, error) {
	return s.repo.GetStockCount(ctx, tenantID, id)
}

func (s *Service) allocateNumber(ctx context.Context, tx TxRepository, tenantID int64, docType string, occurredAt time.Time, locationID int64) (string, error) {
	period := shared.PeriodOf(occurredAt)
	n, err := tx.NextNumber(ctx, sequence.Scope{TenantID: tenantID, DocType: docType, Period: period, LocationID: locationID})
	if err != nil {
		if errors.Is(err, sequence.ErrContention) && s.metrics != nil {
			s.metrics.SequenceRetryExhausted()
		}
		return "", err
	}
	return sequence.Format(docType, period, n), nil
}

// post wraps a translator body with the idempotency guard and the metrics
// bookkeeping common to all five document types. The body runs under
// WithSerializableTx and must be safe to re-run from the top.
func (s *Service) post(ctx context.Context, docType string, tenantID, docID int64, fn func(context.Context, TxRepository) error) error {
	if tenantID == 0 || docID == 0 {
		return fmt.Errorf("%w: tenant and document id required", shared.ErrValidation)
	}
	key := fmt.Sprintf("post:%s:%d:%d", docType, tenantID, docID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "posting"); err != nil {
			return err
		}
		insertedKey = true
	}
	err := s.repo.WithTx(ctx, fn)
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		if s.metrics != nil && errors.Is(err, ledger.ErrNegativeStock) {
			s.metrics.NegativeStockRejected()
		}
		return err
	}
	return nil
}

// afterPost runs the side effects that only make sense once the posting
// transaction is durable.
func (s *Service) afterPost(ctx context.Context, docType string, tenantID, docID int64, number string, userID int64, entries []ledger.Entry) {
	if s.metrics != nil {
		s.metrics.PostingCommitted(docType)
	}
	s.recordAudit(ctx, tenantID, userID, fmt.Sprintf("posting:%s", docType), "document", docID, map[string]any{
		"number":  number,
		"entries": len(entries),
	})
	if s.cache != nil {
		seen := map[[3]int64]struct{}{}
		for _, e := range entries {
			k := [3]int64{e.TenantID, e.ProductID, e.LocationID}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			_ = s.cache.Invalidate(ctx, e.TenantID, e.ProductID, e.LocationID)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
