package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// SQLBroker is a durable FIFO broker backed by a SQL table, typically sharing
// the job store's SQLite handle. Leases are opaque tokens; an item is
// deliverable when visible_at has passed and it holds no live lease.
type SQLBroker struct {
	db      *sql.DB
	cfg     Config
	nowFunc func() time.Time
}

// NewSQLBroker creates a broker on the given handle.
func NewSQLBroker(db *sql.DB, cfg Config) *SQLBroker {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 2 * time.Minute
	}
	return &SQLBroker{db: db, cfg: cfg, nowFunc: time.Now}
}

const brokerMigration = `
CREATE TABLE IF NOT EXISTS queue_items (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id         TEXT NOT NULL,
	lease_token    TEXT,
	visible_at     DATETIME NOT NULL,
	delivery_count INTEGER NOT NULL DEFAULT 0,
	enqueued_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_visible ON queue_items(visible_at);
CREATE INDEX IF NOT EXISTS idx_queue_lease ON queue_items(lease_token);
`

// Migrate creates the queue table.
func (b *SQLBroker) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, brokerMigration)
	return eris.Wrap(err, "queue: migrate")
}

func (b *SQLBroker) Enqueue(ctx context.Context, jobID string) error {
	now := b.nowFunc().UTC()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO queue_items (job_id, visible_at, enqueued_at) VALUES (?, ?, ?)`,
		jobID, now, now,
	)
	return eris.Wrapf(err, "queue: enqueue %s", jobID)
}

func (b *SQLBroker) Dequeue(ctx context.Context) (*Delivery, error) {
	now := b.nowFunc().UTC()
	lease := uuid.New().String()

	// Claim the oldest deliverable item. The single UPDATE keeps the claim
	// atomic under concurrent workers.
	row := b.db.QueryRowContext(ctx,
		`UPDATE queue_items
		 SET lease_token = ?, visible_at = ?, delivery_count = delivery_count + 1
		 WHERE id = (
			SELECT id FROM queue_items WHERE visible_at <= ? ORDER BY id LIMIT 1
		 )
		 RETURNING job_id, delivery_count`,
		lease, now.Add(b.cfg.VisibilityTimeout), now,
	)

	var jobID string
	var deliveryNo int
	err := row.Scan(&jobID, &deliveryNo)
	if err == sql.ErrNoRows {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: dequeue")
	}
	return &Delivery{JobID: jobID, Lease: lease, DeliveryNo: deliveryNo}, nil
}

func (b *SQLBroker) Extend(ctx context.Context, lease string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE queue_items SET visible_at = ? WHERE lease_token = ? AND visible_at > ?`,
		b.nowFunc().UTC().Add(b.cfg.VisibilityTimeout), lease, b.nowFunc().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "queue: extend")
	}
	return leaseAffected(res)
}

func (b *SQLBroker) Ack(ctx context.Context, lease string) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE lease_token = ?`, lease,
	)
	if err != nil {
		return eris.Wrap(err, "queue: ack")
	}
	return leaseAffected(res)
}

func (b *SQLBroker) Nack(ctx context.Context, lease string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE queue_items SET lease_token = NULL, visible_at = ? WHERE lease_token = ?`,
		b.nowFunc().UTC(), lease,
	)
	if err != nil {
		return eris.Wrap(err, "queue: nack")
	}
	return leaseAffected(res)
}

// Depth counts every undelivered item, leased or not. This is the broker's
// own accounting; the admission controller never keeps a shadow counter.
func (b *SQLBroker) Depth(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items`).Scan(&n)
	return n, eris.Wrap(err, "queue: depth")
}

func leaseAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "queue: rows affected")
	}
	if n == 0 {
		return ErrLeaseExpired
	}
	return nil
}
