// Package monitoring watches the operational log for tasks that failed or
// never finished and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/runmeta"
	"github.com/sells-group/stageload/internal/warehouse"
)

// MetricsSnapshot holds a point-in-time view of task health.
type MetricsSnapshot struct {
	TasksTotal int `json:"tasks_total"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// Stale tasks have been running for longer than the stale threshold.
	// A run that was killed stays in this state until the next Begin.
	Stale []runmeta.Run `json:"stale,omitempty"`
	// RecentFailures failed within the lookback window.
	RecentFailures []runmeta.Run `json:"recent_failures,omitempty"`

	LookbackHours int           `json:"lookback_hours"`
	StaleAfter    time.Duration `json:"stale_after"`
	CollectedAt   time.Time     `json:"collected_at"`
}

// Collector reads the task table.
type Collector struct {
	wh   warehouse.Warehouse
	meta config.MetadataConfig
	now  func() time.Time
}

// NewCollector creates a collector over the operational log in wh.
func NewCollector(wh warehouse.Warehouse, meta config.MetadataConfig) *Collector {
	return &Collector{wh: wh, meta: meta, now: time.Now}
}

// Collect summarises every task's current row.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, staleAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		StaleAfter:    staleAfter,
		CollectedAt:   now,
	}

	tasks, err := runmeta.Current(ctx, c.wh, c.meta, "")
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list tasks")
	}
	snap.TasksTotal = len(tasks)

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, r := range tasks {
		switch r.Status {
		case runmeta.Running:
			snap.Running++
			if r.StartedAt != nil && now.Sub(*r.StartedAt) > staleAfter {
				snap.Stale = append(snap.Stale, r)
			}
		case runmeta.Completed:
			snap.Completed++
		case runmeta.Failed:
			snap.Failed++
			if r.FailedAt != nil && r.FailedAt.After(cutoff) {
				snap.RecentFailures = append(snap.RecentFailures, r)
			}
		}
	}
	return snap, nil
}
