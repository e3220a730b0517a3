package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/reporting"
)

// LowStockSource lists pairs under the reorder threshold.
type LowStockSource interface {
	LowStock(ctx context.Context, threshold int64) ([]reporting.LowStockLine, error)
}

// LowStockScanJob periodically reports parts running low so purchasing can
// raise orders before stock-outs.
type LowStockScanJob struct {
	Source           LowStockSource
	Logger           *slog.Logger
	Metrics          *jobmetrics.Metrics
	DefaultThreshold int64
}

// NewLowStockScanJob initialises the low stock scan handler.
func NewLowStockScanJob(source LowStockSource, logger *slog.Logger, metrics *jobmetrics.Metrics, defaultThreshold int64) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Logger: logger, Metrics: metrics, DefaultThreshold: defaultThreshold}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("lowstock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Threshold <= 0 {
		payload.Threshold = j.DefaultThreshold
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	start := time.Now()
	lines, err := j.Source.LowStock(ctx, payload.Threshold)
	if err != nil {
		j.logger().Error("lowstock scan failed", slog.Any("error", err))
		return tracker.End(err)
	}

	for _, line := range lines {
		j.logger().Warn("stock below threshold",
			slog.Int64("part_id", line.PartID),
			slog.String("part_number", line.PartNumber),
			slog.Int64("location_id", line.LocationID),
			slog.Int64("on_hand", line.QuantityOnHand),
			slog.Int64("threshold", payload.Threshold),
		)
	}
	j.Metrics.SetLowStockCount(len(lines))
	j.logger().Info("lowstock scan completed",
		slog.Int("pairs", len(lines)),
		slog.Int64("threshold", payload.Threshold),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
