package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/queue"
	"github.com/sells-group/dispatch-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of queue and job health.
type MetricsSnapshot struct {
	QueueDepth    int     `json:"queue_depth"`
	QueueCapacity int     `json:"queue_capacity"`
	Saturation    float64 `json:"saturation"` // depth / capacity

	Queued        int `json:"queued"`
	Running       int `json:"running"`
	AwaitingHuman int `json:"awaiting_human"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	DeadLettered  int `json:"dead_lettered"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and broker.
type Collector struct {
	store    store.Store
	broker   queue.Broker
	capacity int
}

// NewCollector creates a metrics collector. capacity is the admission gate's
// queue bound, used for the saturation ratio.
func NewCollector(st store.Store, broker queue.Broker, capacity int) *Collector {
	return &Collector{store: st, broker: broker, capacity: capacity}
}

// Collect gathers a snapshot. The per-status counts use a bounded listing;
// totals beyond the listing cap are truncated, which is acceptable for the
// watcher's trend signals.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		QueueCapacity: c.capacity,
		CollectedAt:   time.Now().UTC(),
	}

	depth, err := c.broker.Depth(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: queue depth")
	}
	snap.QueueDepth = depth
	if c.capacity > 0 {
		snap.Saturation = float64(depth) / float64(c.capacity)
	}

	counts := map[model.JobStatus]*int{
		model.JobStatusQueued:        &snap.Queued,
		model.JobStatusRunning:       &snap.Running,
		model.JobStatusAwaitingHuman: &snap.AwaitingHuman,
		model.JobStatusCompleted:     &snap.Completed,
		model.JobStatusFailed:        &snap.Failed,
		model.JobStatusDeadLettered:  &snap.DeadLettered,
	}
	for status, dst := range counts {
		jobs, err := c.store.ListJobs(ctx, store.JobFilter{Status: status, Limit: 10000})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list jobs")
		}
		*dst = len(jobs)
	}

	return snap, nil
}
