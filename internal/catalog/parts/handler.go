package parts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/catalog/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	core "github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the parts catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers part routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
}

type partPayload struct {
	PartNumber  string `json:"part_number"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	items, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, "list parts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": core.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid part id")
		return
	}
	part, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get part", err)
		return
	}
	httpx.JSON(w, http.StatusOK, part)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload partPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	part, err := h.service.Create(r.Context(), Part{
		PartNumber:  payload.PartNumber,
		Name:        payload.Name,
		Description: payload.Description,
		Unit:        payload.Unit,
	})
	if err != nil {
		h.respondError(w, "create part", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, part)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid part id")
		return
	}
	var payload partPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	err = h.service.Update(r.Context(), id, Part{
		PartNumber:  payload.PartNumber,
		Name:        payload.Name,
		Description: payload.Description,
		Unit:        payload.Unit,
	})
	if err != nil {
		h.respondError(w, "update part", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid part id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete part", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, shared.ErrDuplicate):
		httpx.RespondError(w, httpx.ErrDuplicate)
	case errors.Is(err, shared.ErrInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidID), errors.Is(err, shared.ErrRequiredField), errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func listFilters(r *http.Request) shared.ListFilters {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 20
	}
	return shared.ListFilters{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
}
