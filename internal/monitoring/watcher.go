package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// saturationWarnThreshold is the queue fill ratio above which the watcher
// starts warning. Admission rejects at 1.0; warnings fire earlier so
// operators see pressure building.
const saturationWarnThreshold = 0.8

// Watcher periodically collects metrics and logs pressure signals. It keeps
// the previous snapshot so it can report dead-letter growth rather than raw
// totals.
type Watcher struct {
	collector *Collector
	interval  time.Duration

	lastDeadLettered int
	havePrev         bool
}

// NewWatcher creates a background metrics watcher.
func NewWatcher(collector *Collector, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{collector: collector, interval: interval}
}

// Run starts the periodic collection loop. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.watcher"))
	log.Info("starting metrics watcher", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("metrics watcher stopped")
			return
		case <-ticker.C:
			w.observe(ctx, log)
		}
	}
}

func (w *Watcher) observe(ctx context.Context, log *zap.Logger) {
	snap, err := w.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: metrics collection failed", zap.Error(err))
		return
	}

	if snap.Saturation >= saturationWarnThreshold {
		log.Warn("monitoring: queue nearing capacity",
			zap.Int("depth", snap.QueueDepth),
			zap.Int("capacity", snap.QueueCapacity),
			zap.Float64("saturation", snap.Saturation),
		)
	}
	if w.havePrev && snap.DeadLettered > w.lastDeadLettered {
		log.Warn("monitoring: dead-letter growth",
			zap.Int("new", snap.DeadLettered-w.lastDeadLettered),
			zap.Int("total", snap.DeadLettered),
		)
	}
	w.lastDeadLettered = snap.DeadLettered
	w.havePrev = true

	log.Debug("monitoring: snapshot",
		zap.Int("queue_depth", snap.QueueDepth),
		zap.Int("running", snap.Running),
		zap.Int("awaiting_human", snap.AwaitingHuman),
	)
}
