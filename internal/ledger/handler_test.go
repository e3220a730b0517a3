package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	catshared "github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

// scopedCatalog resolves only the ids it was seeded with, failing the rest
// the same way the real resolver does.
type scopedCatalog struct {
	parts     map[int64]bool
	locations map[int64]bool
}

func (c scopedCatalog) EnsurePart(ctx context.Context, id int64) error {
	if !c.parts[id] {
		return fmt.Errorf("part %d: %w", id, catshared.ErrNotFound)
	}
	return nil
}

func (c scopedCatalog) EnsureLocation(ctx context.Context, id int64) error {
	if !c.locations[id] {
		return fmt.Errorf("location %d: %w", id, catshared.ErrNotFound)
	}
	return nil
}

func newTestStockAPI(t *testing.T, catalog CatalogPort) (*chi.Mux, *Service) {
	t.Helper()
	store := newMemoryLedger()
	svc := NewService(store, catalog, &recordingAudit{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Route("/stock", NewHandler(logger, svc).MountRoutes)
	return router, svc
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIssueUnknownPartReturnsNotFound(t *testing.T) {
	router, _ := newTestStockAPI(t, scopedCatalog{
		parts:     map[int64]bool{1: true},
		locations: map[int64]bool{1: true},
	})

	rec := postJSON(t, router, "/stock/issue", `{"part_id":99,"location_id":1,"quantity":5}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Not Found", problem["title"])
}

func TestIssueUnknownLocationReturnsNotFound(t *testing.T) {
	router, _ := newTestStockAPI(t, scopedCatalog{
		parts:     map[int64]bool{1: true},
		locations: map[int64]bool{1: true},
	})

	rec := postJSON(t, router, "/stock/issue", `{"part_id":1,"location_id":42,"quantity":5}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReturnResponseIncludesCreatedLayer(t *testing.T) {
	router, _ := newTestStockAPI(t, scopedCatalog{
		parts:     map[int64]bool{1: true},
		locations: map[int64]bool{1: true},
	})

	rec := postJSON(t, router, "/stock/return", `{"part_id":1,"location_id":1,"quantity":5,"unit_cost":"5","reference":"RMA-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	layer, ok := payload["created_layer"].(map[string]any)
	require.True(t, ok, "response must carry the created layer descriptor")
	require.Equal(t, float64(5), layer["remaining_qty"])
	require.Equal(t, string(SourceReturn), layer["source_type"])
}

func TestMoveResponseIncludesCreatedLayers(t *testing.T) {
	router, svc := newTestStockAPI(t, scopedCatalog{
		parts:     map[int64]bool{1: true},
		locations: map[int64]bool{1: true, 2: true},
	})
	receiveN(t, svc, 1, 1, 5, "10")
	receiveN(t, svc, 1, 1, 5, "20")

	rec := postJSON(t, router, "/stock/move", `{"part_id":1,"from_location_id":1,"to_location_id":2,"quantity":7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	layers, ok := payload["created_layers"].([]any)
	require.True(t, ok, "response must carry the destination layer descriptors")
	require.Len(t, layers, 2)
}
