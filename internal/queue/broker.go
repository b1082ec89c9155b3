// Package queue provides the FIFO broker abstraction the admission controller
// probes and the executor drains. Delivery is at-least-once: a leased item
// that is never acked becomes redeliverable once its visibility timeout
// elapses. Exactly-once EFFECT is the executor's job, not the broker's.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrEmpty is returned by Dequeue when no item is currently deliverable.
var ErrEmpty = eris.New("queue: empty")

// ErrLeaseExpired is returned by Ack/Nack/Extend when the lease is no longer
// held (the item was redelivered to someone else or already acked).
var ErrLeaseExpired = eris.New("queue: lease expired")

// Delivery is one leased item handed to a worker.
type Delivery struct {
	JobID      string
	Lease      string
	DeliveryNo int // 1 on first delivery
}

// Broker is the queue contract. Depth must reflect the broker's own
// accounting and complete within the caller's context deadline; the admission
// controller treats a slow or failed probe as "unknown-high" and rejects.
type Broker interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (*Delivery, error)
	Extend(ctx context.Context, lease string) error
	Ack(ctx context.Context, lease string) error
	Nack(ctx context.Context, lease string) error
	Depth(ctx context.Context) (int, error)
}

// Config tunes broker behavior.
type Config struct {
	VisibilityTimeout time.Duration
}
