package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// layerDraw pairs a drained layer with the quantity and cost taken from it.
type layerDraw struct {
	layer Layer
	qty   int64
	cost  decimal.Decimal
}

// consumeLayers drains open layers for the pair oldest-first until qty is
// satisfied. Layers are ordered by (created_at, id); each is decremented by
// min(remaining, still needed). The caller verifies sufficient stock against
// the aggregate before calling; running out of layers mid-loop means the
// aggregate and the layer sums disagree, which aborts the unit of work.
func consumeLayers(ctx context.Context, tx TxRepository, partID, locationID, qty int64) ([]layerDraw, decimal.Decimal, error) {
	layers, err := tx.ListOpenLayers(ctx, partID, locationID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	still := qty
	total := decimal.Zero
	var draws []layerDraw
	for _, layer := range layers {
		if still == 0 {
			break
		}
		take := layer.RemainingQty
		if take > still {
			take = still
		}
		if err := tx.DecrementLayer(ctx, layer.ID, take); err != nil {
			return nil, decimal.Zero, err
		}
		cost := layer.UnitCost.Mul(decimal.NewFromInt(take))
		draws = append(draws, layerDraw{layer: layer, qty: take, cost: cost})
		total = total.Add(cost)
		still -= take
	}
	if still > 0 {
		return nil, decimal.Zero, fmt.Errorf("ledger: layers exhausted with %d units outstanding for part %d location %d", still, partID, locationID)
	}
	return draws, total, nil
}

func toConsumptions(draws []layerDraw) []Consumption {
	consumed := make([]Consumption, 0, len(draws))
	for _, d := range draws {
		consumed = append(consumed, Consumption{
			LayerID:  d.layer.ID,
			Quantity: d.qty,
			UnitCost: d.layer.UnitCost,
			Cost:     d.cost,
		})
	}
	return consumed
}

// weightedAverage computes totalCost / qty at four decimal places. Used for
// reporting and the audit record only, never to coalesce layers.
func weightedAverage(total decimal.Decimal, qty int64) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(qty), 4)
}
