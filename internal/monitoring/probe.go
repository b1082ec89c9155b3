// Package monitoring provides the health probe behind GET /health and a
// background watcher over queue metrics.
package monitoring

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dispatch-cli/internal/queue"
	"github.com/sells-group/dispatch-cli/internal/store"
)

// probeTimeout bounds each dependency check so a wedged backend cannot hang
// the health endpoint.
const probeTimeout = 2 * time.Second

// ComponentHealth is one dependency's probe result.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Report is the full health snapshot.
type Report struct {
	Healthy    bool            `json:"healthy"`
	Store      ComponentHealth `json:"store"`
	Broker     ComponentHealth `json:"broker"`
	QueueDepth int             `json:"queue_depth"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Prober checks the store and broker.
type Prober struct {
	store  store.Store
	broker queue.Broker
}

// NewProber creates a health prober.
func NewProber(st store.Store, broker queue.Broker) *Prober {
	return &Prober{store: st, broker: broker}
}

// Check probes both dependencies concurrently. Probe failure degrades the
// report; it never returns an error itself.
func (p *Prober) Check(ctx context.Context) *Report {
	report := &Report{CheckedAt: time.Now().UTC()}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gCtx, probeTimeout)
		defer cancel()
		if err := p.store.Ping(pctx); err != nil {
			report.Store.Error = err.Error()
			return nil
		}
		report.Store.Healthy = true
		return nil
	})

	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gCtx, probeTimeout)
		defer cancel()
		depth, err := p.broker.Depth(pctx)
		if err != nil {
			report.Broker.Error = err.Error()
			return nil
		}
		report.Broker.Healthy = true
		report.QueueDepth = depth
		return nil
	})

	_ = g.Wait()

	report.Healthy = report.Store.Healthy && report.Broker.Healthy
	return report
}
