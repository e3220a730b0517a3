package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan scans inventory aggregates for pairs under the
	// reorder threshold.
	TaskLowStockScan = "stock:lowstock_scan"
	// TaskLedgerIntegrityCheck verifies aggregate quantities against layer
	// sums.
	TaskLedgerIntegrityCheck = "ledger:integrity_check"
)

// LowStockScanPayload parameterises a low stock scan.
type LowStockScanPayload struct {
	Threshold int64 `json:"threshold"`
}

// NewLowStockScanTask constructs an Asynq task for the low stock scan.
func NewLowStockScanTask(threshold int64) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// IntegrityCheckPayload carries scheduling metadata.
type IntegrityCheckPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIntegrityCheckTask constructs an Asynq task for the ledger integrity
// check.
func NewIntegrityCheckTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityCheckPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityCheck, body, asynq.Queue(QueueDefault)), nil
}
