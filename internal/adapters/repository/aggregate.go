package repository

import (
	"time"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/metrics"
)

// Aggregate folds operational metrics into the system-wide view.
func Aggregate(from, to time.Time, rows []model.OperationalMetrics) model.SystemMetrics {
	out := model.SystemMetrics{From: from, To: to, Samples: len(rows)}
	if len(rows) == 0 {
		return out
	}
	var delay, util, resolution float64
	for _, m := range rows {
		delay += float64(m.TotalDelay)
		util += m.CapacityUtilization
		resolution += m.ResolutionTime
		out.TotalConflicts += m.ConflictCount
	}
	n := float64(len(rows))
	out.AvgDelay = delay / n
	out.AvgUtilization = util / n
	out.AvgResolutionTime = resolution / n
	return out
}

// Observe records the latency and outcome of a store operation.
func Observe(operation string, start time.Time, err error) {
	metrics.RecordStoreOperation(operation, float64(time.Since(start).Microseconds())/1000, err)
}
