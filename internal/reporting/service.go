package reporting

import (
	"context"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts the report queries for the service.
type RepositoryPort interface {
	OpenLayers(ctx context.Context) ([]ValuationLine, error)
	History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
	LowStock(ctx context.Context, threshold int64) ([]LowStockLine, error)
	OpenPOs(ctx context.Context) ([]OpenPOLine, error)
}

// Service assembles the stock reports. All reads, no locks.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService builds Service. Cache may be nil.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Valuation reports current stock value: open layers in consumption order,
// per-pair summaries and the grand total.
func (s *Service) Valuation(ctx context.Context) (ValuationReport, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "valuation")
	if err != nil {
		return ValuationReport{}, err
	}
	var report ValuationReport
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		lines, err := s.repo.OpenLayers(ctx)
		if err != nil {
			return nil, err
		}
		return buildValuation(lines), nil
	})
	return report, err
}

// History returns the transaction trail newest first, with each record's
// layer-level breakdown. Never cached; auditors read live state.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	return s.repo.History(ctx, filter)
}

// LowStock lists pairs with on-hand quantity at or below the threshold,
// excluding empty pairs.
func (s *Service) LowStock(ctx context.Context, threshold int64) ([]LowStockLine, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "lowstock", strconv.FormatInt(threshold, 10))
	if err != nil {
		return nil, err
	}
	var lines []LowStockLine
	err = s.cache.FetchJSON(ctx, key, &lines, func(ctx context.Context) (any, error) {
		return s.repo.LowStock(ctx, threshold)
	})
	return lines, err
}

// OpenPOs summarises every purchase order not yet closed.
func (s *Service) OpenPOs(ctx context.Context) ([]OpenPOLine, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "openpos")
	if err != nil {
		return nil, err
	}
	var lines []OpenPOLine
	err = s.cache.FetchJSON(ctx, key, &lines, func(ctx context.Context) (any, error) {
		return s.repo.OpenPOs(ctx)
	})
	return lines, err
}

func buildValuation(lines []ValuationLine) ValuationReport {
	type pair struct {
		partID     int64
		locationID int64
	}
	sums := make(map[pair]*ValuationSummary)
	grand := decimal.Zero
	for _, line := range lines {
		grand = grand.Add(line.Value)
		key := pair{line.PartID, line.LocationID}
		sum, ok := sums[key]
		if !ok {
			sum = &ValuationSummary{
				PartID:       line.PartID,
				PartNumber:   line.PartNumber,
				LocationID:   line.LocationID,
				LocationName: line.LocationName,
			}
			sums[key] = sum
		}
		sum.QuantityOnHand += line.RemainingQty
		sum.TotalValue = sum.TotalValue.Add(line.Value)
	}

	summaries := make([]ValuationSummary, 0, len(sums))
	for _, sum := range sums {
		if sum.QuantityOnHand > 0 {
			sum.AverageUnitCost = sum.TotalValue.DivRound(decimal.NewFromInt(sum.QuantityOnHand), 4)
		}
		summaries = append(summaries, *sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].PartID != summaries[j].PartID {
			return summaries[i].PartID < summaries[j].PartID
		}
		return summaries[i].LocationID < summaries[j].LocationID
	})

	return ValuationReport{Lines: lines, Summaries: summaries, GrandTotal: grand}
}
