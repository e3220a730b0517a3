package procurement

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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	catshared "github.com/meridian-erp/meridian-erp/internal/catalog/shared"
)

// knownLocationsCatalog accepts every part and supplier but only the listed
// locations, failing the rest the way the real resolver does.
type knownLocationsCatalog struct {
	locations map[int64]bool
}

func (knownLocationsCatalog) EnsurePart(ctx context.Context, id int64) error     { return nil }
func (knownLocationsCatalog) EnsureSupplier(ctx context.Context, id int64) error { return nil }

func (c knownLocationsCatalog) EnsureLocation(ctx context.Context, id int64) error {
	if !c.locations[id] {
		return fmt.Errorf("location %d: %w", id, catshared.ErrNotFound)
	}
	return nil
}

func TestReceiveUnknownLocationReturnsNotFound(t *testing.T) {
	repo := newMemoryPORepo()
	svc := NewService(repo, knownLocationsCatalog{locations: map[int64]bool{1: true}}, &stubLedger{}, nil)
	po, items := createOrderedPO(t, svc, []LineInput{{PartID: 1, Qty: 10, UnitCost: decimal.NewFromInt(3)}})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Route("/purchase-orders", NewHandler(logger, svc).MountRoutes)

	body := fmt.Sprintf(`{"location_id":42,"lines":[{"line_item_id":%d,"quantity":5}]}`, items[0].ID)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/purchase-orders/%d/receive", po.ID), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Not Found", problem["title"])

	refreshed, _, err := svc.Get(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusOrdered, refreshed.Status)
}
