package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mise-erp/mise-erp/internal/platform/httpx"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// Handler exposes the ledger read surface over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.handleBalance)
	r.Get("/average-cost", h.handleAverageCost)
	r.Get("/movements", h.handleMovements)
	r.Get("/history", h.handleHistory)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	productID := queryInt(r, "product_id")
	locationID := queryInt(r, "location_id")
	lotID := queryInt(r, "lot_id")
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	balance, err := h.service.Balance(r.Context(), id.TenantID, productID, locationID, lotID)
	if err != nil {
		h.logger.Error("ledger balance", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":  productID,
		"location_id": locationID,
		"lot_id":      lotID,
		"balance":     balance,
	})
}

func (h *Handler) handleAverageCost(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	productID := queryInt(r, "product_id")
	locationID := queryInt(r, "location_id")
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	avg, err := h.service.AverageCost(r.Context(), id.TenantID, productID, locationID)
	if err != nil {
		h.logger.Error("ledger average cost", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":   productID,
		"location_id":  locationID,
		"average_cost": avg,
	})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	refType := r.URL.Query().Get("ref_type")
	refID := queryInt(r, "ref_id")
	if refType == "" || refID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ref_type and ref_id are required")
		return
	}
	entries, err := h.service.Movements(r.Context(), id.TenantID, refType, refID)
	if err != nil {
		h.logger.Error("ledger movements", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	productID := queryInt(r, "product_id")
	locationID := queryInt(r, "location_id")
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	page := int(queryInt(r, "page"))
	perPage := int(queryInt(r, "per_page"))
	entries, pagination, err := h.service.History(r.Context(), id.TenantID, productID, locationID, page, perPage)
	if err != nil {
		h.logger.Error("ledger history", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": pagination,
	})
}

func queryInt(r *http.Request, key string) int64 {
	value, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return value
}
