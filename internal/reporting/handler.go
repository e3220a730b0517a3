package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock reports.
type Handler struct {
	logger            *slog.Logger
	service           *Service
	lowStockThreshold int64
	rateLimit         func(http.Handler) http.Handler
}

func NewHandler(logger *slog.Logger, service *Service, lowStockThreshold int64) *Handler {
	limiter := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{logger: logger, service: service, lowStockThreshold: lowStockThreshold, rateLimit: limiter}
}

// MountRoutes registers report routes. The CSV export is rate limited.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/valuation", h.valuation)
	r.Get("/transactions", h.history)
	r.Get("/low-stock", h.lowStock)
	r.Get("/open-pos", h.openPOs)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Get("/transactions.csv", h.historyCSV)
	})
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Valuation(r.Context())
	if err != nil {
		h.logger.Error("valuation report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), historyFilter(r))
	if err != nil {
		h.logger.Error("history report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) historyCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.History(r.Context(), historyFilter(r))
	if err != nil {
		h.logger.Error("history export failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"ID", "Type", "Part", "Location", "To Location", "Quantity", "Unit Cost", "Total Cost", "Reference", "Reason", "Posted At"}
	if err := writer.Write(header); err != nil {
		h.logger.Error("write history csv header", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	for _, entry := range entries {
		tx := entry.Transaction
		row := []string{
			strconv.FormatInt(tx.ID, 10),
			string(tx.Type),
			strconv.FormatInt(tx.PartID, 10),
			strconv.FormatInt(tx.LocationID, 10),
			strconv.FormatInt(tx.ToLocationID, 10),
			strconv.FormatInt(tx.Quantity, 10),
			tx.UnitCost.String(),
			tx.TotalCost.String(),
			tx.Reference,
			tx.Reason,
			tx.PostedAt.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			h.logger.Error("write history csv row", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("flush history csv", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=stock-transactions-%s.csv", time.Now().UTC().Format("20060102")))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := h.lowStockThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid threshold")
			return
		}
		threshold = parsed
	}
	lines, err := h.service.LowStock(r.Context(), threshold)
	if err != nil {
		h.logger.Error("low stock report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lines, "threshold": threshold})
}

func (h *Handler) openPOs(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.OpenPOs(r.Context())
	if err != nil {
		h.logger.Error("open po report failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lines})
}

func historyFilter(r *http.Request) HistoryFilter {
	q := r.URL.Query()
	partID, _ := strconv.ParseInt(q.Get("part_id"), 10, 64)
	locationID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	return HistoryFilter{PartID: partID, LocationID: locationID, Limit: limit}
}
