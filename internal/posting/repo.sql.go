package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/costing"
	"github.com/mise-erp/mise-erp/internal/ledger"
	"github.com/mise-erp/mise-erp/internal/lots"
	"github.com/mise-erp/mise-erp/internal/platform/db"
	"github.com/mise-erp/mise-erp/internal/sequence"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// Repository implements RepositoryPort against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one Serializable transaction with a TxRepository
// bound to it. Serializable isolation is what makes the commit-time balance
// verification sound: two postings that would jointly overdraw a key form a
// dangerous read/write structure, Postgres aborts one with 40001, and the
// retried run sees the winner's entries and is rejected by the guard. The
// same retry covers two creates racing on a document_sequences row.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

// GetGoodsReceipt fetches a receipt with lines for display.
func (r *Repository) GetGoodsReceipt(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	return fetchGoodsReceipt(ctx, r.pool, tenantID, id, false)
}

// GetIssueOrder fetches an issue order with lines.
func (r *Repository) GetIssueOrder(ctx context.Context, tenantID, id int64) (IssueOrder, error) {
	return fetchIssueOrder(ctx, r.pool, tenantID, id, false)
}

// GetProductionOrder fetches a production order.
func (r *Repository) GetProductionOrder(ctx context.Context, tenantID, id int64) (ProductionOrder, error) {
	return fetchProductionOrder(ctx, r.pool, tenantID, id, false)
}

// GetTransfer fetches a transfer with lines.
func (r *Repository) GetTransfer(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return fetchTransfer(ctx, r.pool, tenantID, id, false)
}

// GetStockCount fetches a stock count with lines.
func (r *Repository) GetStockCount(ctx context.Context, tenantID, id int64) (StockCount, error) {
	return fetchStockCount(ctx, r.pool, tenantID, id, false)
}

// GetRecipe fetches a recipe with its ingredient lines.
func (r *Repository) GetRecipe(ctx context.Context, tenantID, id int64) (Recipe, error) {
	return fetchRecipe(ctx, r.pool, tenantID, id)
}

type txRepository struct {
	q       db.Querier
	ledger  *ledger.Store
	lots    *lots.Store
	tracker *costing.Tracker
	seq     *sequence.Allocator
}

func newTxRepository(tx pgx.Tx) *txRepository {
	return &txRepository{
		q:       tx,
		ledger:  ledger.NewStore(tx),
		lots:    lots.NewStore(tx),
		tracker: costing.NewTracker(costing.NewStore(tx)),
		seq:     sequence.NewAllocator(tx),
	}
}

func (t *txRepository) NextNumber(ctx context.Context, scope sequence.Scope) (int64, error) {
	return t.seq.Next(ctx, scope)
}

func (t *txRepository) InsertGoodsReceipt(ctx context.Context, doc GoodsReceipt) (GoodsReceipt, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO goods_receipts (tenant_id, location_id, doc_number, status, supplier_ref, occurred_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		doc.TenantID, doc.LocationID, doc.Number, string(doc.Status), doc.SupplierRef, doc.OccurredAt, nullInt(doc.CreatedBy)).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return GoodsReceipt{}, err
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		err := t.q.QueryRow(ctx, `INSERT INTO goods_receipt_lines (receipt_id, product_id, lot_number, expires_at, manufactured_at, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			doc.ID, line.ProductID, nullString(line.LotNumber), nullTime(line.ExpiresAt), nullTime(line.ManufacturedAt), line.Qty, line.UnitCost).
			Scan(&line.ID)
		if err != nil {
			return GoodsReceipt{}, err
		}
	}
	return doc, nil
}

func (t *txRepository) InsertIssueOrder(ctx context.Context, doc IssueOrder) (IssueOrder, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO issue_orders (tenant_id, location_id, doc_number, status, reference, occurred_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		doc.TenantID, doc.LocationID, doc.Number, string(doc.Status), doc.Reference, doc.OccurredAt, nullInt(doc.CreatedBy)).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return IssueOrder{}, err
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		err := t.q.QueryRow(ctx, `INSERT INTO issue_order_lines (order_id, product_id, lot_id, qty)
VALUES ($1,$2,$3,$4) RETURNING id`,
			doc.ID, line.ProductID, nullInt(line.LotID), line.Qty).Scan(&line.ID)
		if err != nil {
			return IssueOrder{}, err
		}
	}
	return doc, nil
}

func (t *txRepository) InsertProductionOrder(ctx context.Context, doc ProductionOrder) (ProductionOrder, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO production_orders (tenant_id, location_id, doc_number, status, recipe_id, actual_qty, occurred_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		doc.TenantID, doc.LocationID, doc.Number, string(doc.Status), doc.RecipeID, doc.ActualQty, doc.OccurredAt, nullInt(doc.CreatedBy)).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return ProductionOrder{}, err
	}
	return doc, nil
}

func (t *txRepository) InsertTransfer(ctx context.Context, doc Transfer) (Transfer, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO transfers (tenant_id, src_location_id, dst_location_id, doc_number, status, occurred_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		doc.TenantID, doc.SrcLocationID, doc.DstLocationID, doc.Number, string(doc.Status), doc.OccurredAt, nullInt(doc.CreatedBy)).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return Transfer{}, err
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		err := t.q.QueryRow(ctx, `INSERT INTO transfer_lines (transfer_id, product_id, lot_id, requested_qty, received_qty)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			doc.ID, line.ProductID, nullInt(line.LotID), line.RequestedQty, nullDecimal(line.ReceivedQty)).Scan(&line.ID)
		if err != nil {
			return Transfer{}, err
		}
	}
	return doc, nil
}

func (t *txRepository) InsertStockCount(ctx context.Context, doc StockCount) (StockCount, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO stock_counts (tenant_id, location_id, doc_number, status, occurred_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, created_at`,
		doc.TenantID, doc.LocationID, doc.Number, string(doc.Status), doc.OccurredAt, nullInt(doc.CreatedBy)).
		Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return StockCount{}, err
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		err := t.q.QueryRow(ctx, `INSERT INTO stock_count_lines (count_id, product_id, lot_id, counted_qty, system_qty)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			doc.ID, line.ProductID, nullInt(line.LotID), line.CountedQty, line.SystemQty).Scan(&line.ID)
		if err != nil {
			return StockCount{}, err
		}
	}
	return doc, nil
}

func (t *txRepository) GetGoodsReceiptForUpdate(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	return fetchGoodsReceipt(ctx, t.q, tenantID, id, true)
}

func (t *txRepository) GetIssueOrderForUpdate(ctx context.Context, tenantID, id int64) (IssueOrder, error) {
	return fetchIssueOrder(ctx, t.q, tenantID, id, true)
}

func (t *txRepository) GetProductionOrderForUpdate(ctx context.Context, tenantID, id int64) (ProductionOrder, error) {
	return fetchProductionOrder(ctx, t.q, tenantID, id, true)
}

func (t *txRepository) GetTransferForUpdate(ctx context.Context, tenantID, id int64) (Transfer, error) {
	return fetchTransfer(ctx, t.q, tenantID, id, true)
}

func (t *txRepository) GetStockCountForUpdate(ctx context.Context, tenantID, id int64) (StockCount, error) {
	return fetchStockCount(ctx, t.q, tenantID, id, true)
}

func (t *txRepository) GetRecipe(ctx context.Context, tenantID, id int64) (Recipe, error) {
	return fetchRecipe(ctx, t.q, tenantID, id)
}

// SetStatus flips the document status, failing with ErrInvalidState when the
// document is not in the expected source state.
func (t *txRepository) SetStatus(ctx context.Context, docType string, tenantID, id int64, from, to DocStatus) error {
	table := tableFor(docType)
	if table == "" {
		return fmt.Errorf("posting: unknown doc type %q", docType)
	}
	tag, err := t.q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$1 WHERE tenant_id=$2 AND id=$3 AND status=$4`, table),
		string(to), tenantID, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

func (t *txRepository) AppendEntries(ctx context.Context, entries []ledger.Entry) ([]ledger.Entry, error) {
	if err := t.ledger.Append(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *txRepository) VerifyBalances(ctx context.Context, g *ledger.Guard) error {
	return g.Verify(ctx, t.ledger)
}

func (t *txRepository) AverageCost(ctx context.Context, tenantID, productID, locationID int64) (decimal.NullDecimal, error) {
	return t.ledger.AverageCost(ctx, tenantID, productID, locationID)
}

func (t *txRepository) AddLayer(ctx context.Context, input costing.LayerInput) (costing.Layer, error) {
	return t.tracker.AddLayer(ctx, input)
}

func (t *txRepository) ConsumeLayers(ctx context.Context, input costing.ConsumeInput) (decimal.Decimal, error) {
	return t.tracker.Consume(ctx, input)
}

// EnsureLot resolves a labeled lot to its id, registering it on first sight.
func (t *txRepository) EnsureLot(ctx context.Context, lot lots.Lot) (int64, error) {
	existing, err := t.lots.FindByNumber(ctx, lot.TenantID, lot.ProductID, lot.LocationID, lot.LotNumber)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, lots.ErrLotNotFound) {
		return 0, err
	}
	id, err := t.lots.Insert(ctx, lot)
	if errors.Is(err, lots.ErrDuplicateLot) {
		existing, err := t.lots.FindByNumber(ctx, lot.TenantID, lot.ProductID, lot.LocationID, lot.LotNumber)
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}
	return id, err
}

func (t *txRepository) GetLot(ctx context.Context, tenantID, id int64) (lots.Lot, error) {
	return t.lots.Get(ctx, tenantID, id)
}

func tableFor(docType string) string {
	switch docType {
	case DocTypeGoodsReceipt:
		return "goods_receipts"
	case DocTypeIssue:
		return "issue_orders"
	case DocTypeProduction:
		return "production_orders"
	case DocTypeTransfer:
		return "transfers"
	case DocTypeStockCount:
		return "stock_counts"
	}
	return ""
}

func lockSuffix(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func fetchGoodsReceipt(ctx context.Context, q db.Querier, tenantID, id int64, forUpdate bool) (GoodsReceipt, error) {
	var doc GoodsReceipt
	var status string
	err := q.QueryRow(ctx, `SELECT id, tenant_id, location_id, doc_number, status, COALESCE(supplier_ref, ''), occurred_at, COALESCE(created_by, 0), created_at
FROM goods_receipts WHERE tenant_id=$1 AND id=$2`+lockSuffix(forUpdate), tenantID, id).
		Scan(&doc.ID, &doc.TenantID, &doc.LocationID, &doc.Number, &status, &doc.SupplierRef, &doc.OccurredAt, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrDocumentNotFound
		}
		return GoodsReceipt{}, err
	}
	doc.Status = DocStatus(status)
	rows, err := q.Query(ctx, `SELECT id, product_id, COALESCE(lot_number, ''), COALESCE(expires_at, 'epoch'), COALESCE(manufactured_at, 'epoch'), qty, unit_cost
FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id ASC`, doc.ID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line ReceiptLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.LotNumber, &line.ExpiresAt, &line.ManufacturedAt, &line.Qty, &line.UnitCost); err != nil {
			return GoodsReceipt{}, err
		}
		line.ExpiresAt = zeroEpoch(line.ExpiresAt)
		line.ManufacturedAt = zeroEpoch(line.ManufacturedAt)
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func fetchIssueOrder(ctx context.Context, q db.Querier, tenantID, id int64, forUpdate bool) (IssueOrder, error) {
	var doc IssueOrder
	var status string
	err := q.QueryRow(ctx, `SELECT id, tenant_id, location_id, doc_number, status, COALESCE(reference, ''), occurred_at, COALESCE(created_by, 0), created_at
FROM issue_orders WHERE tenant_id=$1 AND id=$2`+lockSuffix(forUpdate), tenantID, id).
		Scan(&doc.ID, &doc.TenantID, &doc.LocationID, &doc.Number, &status, &doc.Reference, &doc.OccurredAt, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueOrder{}, ErrDocumentNotFound
		}
		return IssueOrder{}, err
	}
	doc.Status = DocStatus(status)
	rows, err := q.Query(ctx, `SELECT id, product_id, COALESCE(lot_id, 0), qty
FROM issue_order_lines WHERE order_id=$1 ORDER BY id ASC`, doc.ID)
	if err != nil {
		return IssueOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line IssueLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.LotID, &line.Qty); err != nil {
			return IssueOrder{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func fetchProductionOrder(ctx context.Context, q db.Querier, tenantID, id int64, forUpdate bool) (ProductionOrder, error) {
	var doc ProductionOrder
	var status string
	err := q.QueryRow(ctx, `SELECT id, tenant_id, location_id, doc_number, status, recipe_id, actual_qty, occurred_at, COALESCE(created_by, 0), created_at
FROM production_orders WHERE tenant_id=$1 AND id=$2`+lockSuffix(forUpdate), tenantID, id).
		Scan(&doc.ID, &doc.TenantID, &doc.LocationID, &doc.Number, &status, &doc.RecipeID, &doc.ActualQty, &doc.OccurredAt, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductionOrder{}, ErrDocumentNotFound
		}
		return ProductionOrder{}, err
	}
	doc.Status = DocStatus(status)
	return doc, nil
}

func fetchTransfer(ctx context.Context, q db.Querier, tenantID, id int64, forUpdate bool) (Transfer, error) {
	var doc Transfer
	var status string
	err := q.QueryRow(ctx, `SELECT id, tenant_id, src_location_id, dst_location_id, doc_number, status, occurred_at, COALESCE(created_by, 0), created_at
FROM transfers WHERE tenant_id=$1 AND id=$2`+lockSuffix(forUpdate), tenantID, id).
		Scan(&doc.ID, &doc.TenantID, &doc.SrcLocationID, &doc.DstLocationID, &doc.Number, &status, &doc.OccurredAt, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrDocumentNotFound
		}
		return Transfer{}, err
	}
	doc.Status = DocStatus(status)
	rows, err := q.Query(ctx, `SELECT id, product_id, COALESCE(lot_id, 0), requested_qty, received_qty
FROM transfer_lines WHERE transfer_id=$1 ORDER BY id ASC`, doc.ID)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line TransferLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.LotID, &line.RequestedQty, &line.ReceivedQty); err != nil {
			return Transfer{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func fetchStockCount(ctx context.Context, q db.Querier, tenantID, id int64, forUpdate bool) (StockCount, error) {
	var doc StockCount
	var status string
	err := q.QueryRow(ctx, `SELECT id, tenant_id, location_id, doc_number, status, occurred_at, COALESCE(created_by, 0), created_at
FROM stock_counts WHERE tenant_id=$1 AND id=$2`+lockSuffix(forUpdate), tenantID, id).
		Scan(&doc.ID, &doc.TenantID, &doc.LocationID, &doc.Number, &status, &doc.OccurredAt, &doc.CreatedBy, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockCount{}, ErrDocumentNotFound
		}
		return StockCount{}, err
	}
	doc.Status = DocStatus(status)
	rows, err := q.Query(ctx, `SELECT id, product_id, COALESCE(lot_id, 0), counted_qty, system_qty
FROM stock_count_lines WHERE count_id=$1 ORDER BY id ASC`, doc.ID)
	if err != nil {
		return StockCount{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line CountLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.LotID, &line.CountedQty, &line.SystemQty); err != nil {
			return StockCount{}, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func fetchRecipe(ctx context.Context, q db.Querier, tenantID, id int64) (Recipe, error) {
	var recipe Recipe
	err := q.QueryRow(ctx, `SELECT id, tenant_id, product_id, COALESCE(name, ''), yield_qty
FROM recipes WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&recipe.ID, &recipe.TenantID, &recipe.ProductID, &recipe.Name, &recipe.YieldQty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, fmt.Errorf("%w: recipe %d", shared.ErrNotFound, id)
		}
		return Recipe{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, ingredient_id, qty
FROM recipe_lines WHERE recipe_id=$1 ORDER BY id ASC`, recipe.ID)
	if err != nil {
		return Recipe{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line RecipeLine
		if err := rows.Scan(&line.ID, &line.IngredientID, &line.Qty); err != nil {
			return Recipe{}, err
		}
		recipe.Lines = append(recipe.Lines, line)
	}
	return recipe, rows.Err()
}

func zeroEpoch(t time.Time) time.Time {
	if t.Equal(time.Unix(0, 0).UTC()) {
		return time.Time{}
	}
	return t
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
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

func nullDecimal(value decimal.NullDecimal) any {
	if !value.Valid {
		return nil
	}
	return value.Decimal
}
