package procurement

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

// Handler wires HTTP endpoints for the purchase order workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/order", h.markOrdered)
	r.Post("/{id}/receive", h.receive)
}

type createPORequest struct {
	SupplierID int64          `json:"supplier_id" validate:"required,gt=0"`
	Note       string         `json:"note"`
	Lines      []createPOLine `json:"lines" validate:"required,min=1,dive"`
}

type createPOLine struct {
	PartID   int64           `json:"part_id" validate:"required,gt=0"`
	Qty      int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type receiveRequest struct {
	LocationID int64         `json:"location_id" validate:"required,gt=0"`
	Lines      []receiveLine `json:"lines" validate:"required,min=1,dive"`
}

type receiveLine struct {
	LineItemID int64 `json:"line_item_id" validate:"required,gt=0"`
	Qty        int64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := ListFilter{
		Status: POStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	po, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": po, "lines": lines})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePOInput{
		SupplierID: req.SupplierID,
		Note:       req.Note,
		ActorID:    actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{PartID: line.PartID, Qty: line.Qty, UnitCost: line.UnitCost})
	}
	po, lines, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"purchase_order": po, "lines": lines})
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	po, err := h.service.MarkOrdered(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, "order purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ReceiveInput{
		POID:       id,
		LocationID: req.LocationID,
		ActorID:    actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{LineItemID: line.LineItemID, Qty: line.Qty})
	}
	results, po, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respondError(w, "receive purchase order", err)
		return
	}
	receipts := make([]map[string]any, 0, len(results))
	for _, res := range results {
		receipts = append(receipts, map[string]any{
			"transaction_id": res.Transaction.ID,
			"part_id":        res.Transaction.PartID,
			"quantity":       res.Transaction.Quantity,
			"unit_cost":      res.Transaction.UnitCost,
			"total_cost":     res.TotalCost,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": po, "receipts": receipts})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, catshared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOverReceipt):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
