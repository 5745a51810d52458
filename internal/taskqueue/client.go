package taskqueue

import (
	"context"
	"encoding/json"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/internal/outbox"
	"github.com/careloop/schedkit/libs/db"
)

// Enqueuer is what producers (lifecycle manager, composer) depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Client writes jobs through the outbox so the publisher relays them to the
// queue transport.
type Client struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewClient(pool *db.Pool, repo *outbox.Repository) *Client {
	return &Client{pool: pool, repo: repo}
}

func (c *Client) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fault.External("taskqueue.enqueue", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fault.External("taskqueue.enqueue", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := c.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "task",
		AggregateID:   job.Key,
		EventType:     string(job.Kind),
		Payload:       payload,
	}); err != nil {
		return fault.External("taskqueue.enqueue", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fault.External("taskqueue.enqueue", err)
	}
	return nil
}
