package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	catshared "github.com/meridian-erp/meridian-erp/internal/catalog/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock transaction engine. Goods
// receipts are not mounted here; they only enter through the purchase order
// receive endpoint.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/issue", h.issue)
	r.Post("/move", h.move)
	r.Post("/dispose", h.dispose)
	r.Post("/return", h.returnStock)
	r.Post("/adjust", h.adjust)
}

type issueRequest struct {
	PartID     int64  `json:"part_id" validate:"required,gt=0"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	Reason     string `json:"reason"`
	Reference  string `json:"reference"`
}

type moveRequest struct {
	PartID         int64 `json:"part_id" validate:"required,gt=0"`
	FromLocationID int64 `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64 `json:"to_location_id" validate:"required,gt=0"`
	Quantity       int64 `json:"quantity" validate:"required,gt=0"`
}

type disposeRequest struct {
	PartID     int64  `json:"part_id" validate:"required,gt=0"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"required"`
}

type returnRequest struct {
	PartID     int64           `json:"part_id" validate:"required,gt=0"`
	LocationID int64           `json:"location_id" validate:"required,gt=0"`
	Quantity   int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Reason     string          `json:"reason"`
	Reference  string          `json:"reference"`
}

type adjustRequest struct {
	PartID      int64            `json:"part_id" validate:"required,gt=0"`
	LocationID  int64            `json:"location_id" validate:"required,gt=0"`
	NewQuantity int64            `json:"new_quantity" validate:"gte=0"`
	Reason      string           `json:"reason" validate:"required"`
	UnitCost    *decimal.Decimal `json:"unit_cost"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Issue(r.Context(), IssueInput{
		PartID:     req.PartID,
		LocationID: req.LocationID,
		Qty:        req.Quantity,
		Reason:     req.Reason,
		Reference:  req.Reference,
		ActorID:    actorID(r),
	})
	h.respond(w, "issue stock", res, err)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Move(r.Context(), MoveInput{
		PartID:         req.PartID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Qty:            req.Quantity,
		ActorID:        actorID(r),
	})
	h.respond(w, "move stock", res, err)
}

func (h *Handler) dispose(w http.ResponseWriter, r *http.Request) {
	var req disposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Dispose(r.Context(), DisposeInput{
		PartID:     req.PartID,
		LocationID: req.LocationID,
		Qty:        req.Quantity,
		Reason:     req.Reason,
		ActorID:    actorID(r),
	})
	h.respond(w, "dispose stock", res, err)
}

func (h *Handler) returnStock(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Return(r.Context(), ReturnInput{
		PartID:     req.PartID,
		LocationID: req.LocationID,
		Qty:        req.Quantity,
		UnitCost:   req.UnitCost,
		Reason:     req.Reason,
		Reference:  req.Reference,
		ActorID:    actorID(r),
	})
	h.respond(w, "return stock", res, err)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Adjust(r.Context(), AdjustInput{
		PartID:      req.PartID,
		LocationID:  req.LocationID,
		NewQuantity: req.NewQuantity,
		Reason:      req.Reason,
		UnitCost:    req.UnitCost,
		ActorID:     actorID(r),
	})
	h.respond(w, "adjust stock", res, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, op string, res Result, err error) {
	if err != nil {
		h.respondError(w, op, err)
		return
	}
	payload := map[string]any{
		"transaction":       res.Transaction,
		"total_cost":        res.TotalCost,
		"average_unit_cost": res.AverageUnitCost,
		"quantity_before":   res.QuantityBefore,
		"quantity_after":    res.QuantityAfter,
		"no_change":         res.NoChange,
	}
	if len(res.Consumed) > 0 {
		payload["consumed"] = res.Consumed
	}
	if res.CreatedLayer != nil {
		payload["created_layer"] = res.CreatedLayer
	}
	if len(res.CreatedLayers) > 0 {
		payload["created_layers"] = res.CreatedLayers
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, catshared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInsufficientStock):
		httpx.RespondError(w, httpx.ErrInsufficientStock)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrReasonRequired), errors.Is(err, ErrSameLocation),
		errors.Is(err, ErrNoCostBasis):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
