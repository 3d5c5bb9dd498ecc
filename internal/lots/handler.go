package lots

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mise-erp/mise-erp/internal/platform/httpx"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// Handler exposes lot registration and FEFO pick order over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	cache     *PickOrderCache
	validator *validator.Validate
}

// NewHandler constructs the lots handler. The cache is optional.
func NewHandler(logger *slog.Logger, service *Service, cache *PickOrderCache) *Handler {
	return &Handler{logger: logger, service: service, cache: cache, validator: validator.New()}
}

// MountRoutes registers lot routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/pick-order", h.handlePickOrder)
}

type createLotRequest struct {
	ProductID      int64     `json:"product_id" validate:"required"`
	LocationID     int64     `json:"location_id" validate:"required"`
	LotNumber      string    `json:"lot_number" validate:"required"`
	ExpiresAt      time.Time `json:"expires_at"`
	ManufacturedAt time.Time `json:"manufactured_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed JSON", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id := shared.IdentityFromContext(r.Context())
	lot, err := h.service.Create(r.Context(), CreateInput{
		TenantID:       id.TenantID,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		LotNumber:      req.LotNumber,
		ExpiresAt:      req.ExpiresAt,
		ManufacturedAt: req.ManufacturedAt,
		ActorID:        id.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateLot):
			httpx.Problem(w, http.StatusConflict, "Duplicate Lot", err.Error())
		case errors.Is(err, shared.ErrValidation):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("create lot", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handlePickOrder(w http.ResponseWriter, r *http.Request) {
	id := shared.IdentityFromContext(r.Context())
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if productID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	loader := func(ctx context.Context) ([]LotBalance, error) {
		return h.service.PickOrder(ctx, id.TenantID, productID, locationID)
	}
	order, err := h.cache.Fetch(r.Context(), id.TenantID, productID, locationID, loader)
	if err != nil {
		h.logger.Error("fefo pick order", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}
