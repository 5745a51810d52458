package outbox

import (
	"context"

	"github.com/careloop/schedkit/libs/db"
)

// Sink emits a single event in its own short transaction, for events raised
// after the originating mutation has already committed.
type Sink struct {
	pool *db.Pool
	repo *Repository
}

func NewSink(pool *db.Pool, repo *Repository) *Sink {
	return &Sink{pool: pool, repo: repo}
}

func (s *Sink) Emit(ctx context.Context, evt Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
