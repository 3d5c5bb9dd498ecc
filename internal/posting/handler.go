package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mise-erp/mise-erp/internal/ledger"
	"github.com/mise-erp/mise-erp/internal/lots"
	"github.com/mise-erp/mise-erp/internal/platform/httpx"
	"github.com/mise-erp/mise-erp/internal/sequence"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// Handler wires HTTP endpoints for documents and posting.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the posting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.createReceipt)
	r.Get("/receipts/{id}", h.getReceipt)
	r.Post("/receipts/{id}/post", h.postReceipt)

	r.Post("/issues", h.createIssue)
	r.Get("/issues/{id}", h.getIssue)
	r.Post("/issues/{id}/post", h.postIssue)

	r.Post("/production-orders", h.createProduction)
	r.Get("/production-orders/{id}", h.getProduction)
	r.Post("/production-orders/{id}/post", h.postProduction)

	r.Post("/transfers", h.createTransfer)
	r.Get("/transfers/{id}", h.getTransfer)
	r.Post("/transfers/{id}/post", h.postTransfer)

	r.Post("/stock-counts", h.createCount)
	r.Get("/stock-counts/{id}", h.getCount)
	r.Post("/stock-counts/{id}/post", h.postCount)
}

type createReceiptRequest struct {
	LocationID  int64              `json:"location_id" validate:"required"`
	SupplierRef string             `json:"supplier_ref"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Lines       []ReceiptLineInput `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.CreateGoodsReceipt(r.Context(), CreateReceiptInput{
		TenantID:    id.TenantID,
		LocationID:  req.LocationID,
		SupplierRef: req.SupplierRef,
		OccurredAt:  req.OccurredAt,
		ActorID:     id.UserID,
		Lines:       req.Lines,
	})
	if err != nil {
		h.respondErr(w, r, "create receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.GetGoodsReceipt(r.Context(), id.TenantID, docID)
	if err != nil {
		h.respondErr(w, r, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.PostGoodsReceipt(r.Context(), id.TenantID, docID, id.UserID)
	if err != nil {
		h.respondErr(w, r, "post receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type createIssueRequest struct {
	LocationID int64            `json:"location_id" validate:"required"`
	Reference  string           `json:"reference"`
	OccurredAt time.Time        `json:"occurred_at"`
	Lines      []IssueLineInput `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.CreateIssueOrder(r.Context(), CreateIssueInput{
		TenantID:   id.TenantID,
		LocationID: req.LocationID,
		Reference:  req.Reference,
		OccurredAt: req.OccurredAt,
		ActorID:    id.UserID,
		Lines:      req.Lines,
	})
	if err != nil {
		h.respondErr(w, r, "create issue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getIssue(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.GetIssueOrder(r.Context(), id.TenantID, docID)
	if err != nil {
		h.respondErr(w, r, "get issue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.PostOrderIssue(r.Context(), id.TenantID, docID, id.UserID)
	if err != nil {
		h.respondErr(w, r, "post issue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type createProductionRequest struct {
	LocationID int64           `json:"location_id" validate:"required"`
	RecipeID   int64           `json:"recipe_id" validate:"required"`
	ActualQty  decimal.Decimal `json:"actual_qty" validate:"required"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (h *Handler) createProduction(w http.ResponseWriter, r *http.Request) {
	var req createProductionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.CreateProductionOrder(r.Context(), CreateProductionInput{
		TenantID:   id.TenantID,
		LocationID: req.LocationID,
		RecipeID:   req.RecipeID,
		ActualQty:  req.ActualQty,
		OccurredAt: req.OccurredAt,
		ActorID:    id.UserID,
	})
	if err != nil {
		h.respondErr(w, r, "create production order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getProduction(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.GetProductionOrder(r.Context(), id.TenantID, docID)
	if err != nil {
		h.respondErr(w, r, "get production order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postProduction(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.PostProduction(r.Context(), id.TenantID, docID, id.UserID)
	if err != nil {
		h.respondErr(w, r, "post production order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type createTransferRequest struct {
	SrcLocationID int64               `json:"src_location_id" validate:"required"`
	DstLocationID int64               `json:"dst_location_id" validate:"required"`
	OccurredAt    time.Time           `json:"occurred_at"`
	Lines         []TransferLineInput `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.CreateTransfer(r.Context(), CreateTransferInput{
		TenantID:      id.TenantID,
		SrcLocationID: req.SrcLocationID,
		DstLocationID: req.DstLocationID,
		OccurredAt:    req.OccurredAt,
		ActorID:       id.UserID,
		Lines:         req.Lines,
	})
	if err != nil {
		h.respondErr(w, r, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.GetTransfer(r.Context(), id.TenantID, docID)
	if err != nil {
		h.respondErr(w, r, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.PostTransfer(r.Context(), id.TenantID, docID, id.UserID)
	if err != nil {
		h.respondErr(w, r, "post transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type createCountRequest struct {
	LocationID int64            `json:"location_id" validate:"required"`
	OccurredAt time.Time        `json:"occurred_at"`
	Lines      []CountLineInput `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createCount(w http.ResponseWriter, r *http.Request) {
	var req createCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.CreateStockCount(r.Context(), CreateCountInput{
		TenantID:   id.TenantID,
		LocationID: req.LocationID,
		OccurredAt: req.OccurredAt,
		ActorID:    id.UserID,
		Lines:      req.Lines,
	})
	if err != nil {
		h.respondErr(w, r, "create stock count", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getCount(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.GetStockCount(r.Context(), id.TenantID, docID)
	if err != nil {
		h.respondErr(w, r, "get stock count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postCount(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.docID(w, r)
	if !ok {
		return
	}
	id := shared.IdentityFromContext(r.Context())
	doc, err := h.service.PostStockCount(r.Context(), id.TenantID, docID, id.UserID)
	if err != nil {
		h.respondErr(w, r, "post stock count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) docID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	var negErr *ledger.NegativeStockError
	switch {
	case errors.As(err, &negErr):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Negative Stock", negErr.Error())
	case errors.Is(err, ErrRecipeYield):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Recipe Yield", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrEmptyDocument):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, lots.ErrDuplicateLot):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, shared.ErrNotFound), errors.Is(err, lots.ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, sequence.ErrContention):
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusServiceUnavailable, "Numbering Contention", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
