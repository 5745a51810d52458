package taskqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/careloop/schedkit/internal/inbox"
	"github.com/careloop/schedkit/libs/kafkax"
)

type Handler func(ctx context.Context, job Job) error

// dedupe is the inbox surface the worker needs.
type dedupe interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// Worker consumes one topic per registered kind and dispatches to the typed
// handler table. Offsets are committed only after a handler finishes, and the
// inbox records an event only after its handler succeeds, so a failed or
// crashed job is redelivered on the next poll or rebalance. Handlers must stay
// idempotent under that at-least-once redelivery.
type Worker struct {
	logger   *slog.Logger
	inbox    dedupe
	brokers  []string
	groupID  string
	handlers map[Kind]Handler
}

type WorkerConfig struct {
	Brokers string
	GroupID string
}

func NewWorker(logger *slog.Logger, inboxRepo *inbox.Repository, cfg WorkerConfig) *Worker {
	return &Worker{
		logger:   logger,
		inbox:    inboxRepo,
		brokers:  kafkax.SplitBrokers(cfg.Brokers),
		groupID:  cfg.GroupID,
		handlers: make(map[Kind]Handler),
	}
}

func (w *Worker) Handle(kind Kind, handler Handler) {
	w.handlers[kind] = handler
}

func (w *Worker) Run(ctx context.Context) {
	if len(w.brokers) == 0 {
		w.logger.Warn("task worker disabled (no kafka brokers configured)")
		return
	}

	var wg sync.WaitGroup
	for kind := range w.handlers {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			w.consume(ctx, kind)
		}(kind)
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, kind Kind) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  w.brokers,
		GroupID:  w.groupID,
		Topic:    string(kind),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("kafka read error", "err", err, "kind", kind)
			time.Sleep(1 * time.Second)
			continue
		}

		if !w.process(ctx, kind, msg) {
			// Handler failed: leave the offset uncommitted so the
			// message is redelivered.
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			w.logger.Error("kafka commit error", "err", err, "kind", kind)
		}
	}
}

// process handles one message and reports whether its offset may be
// committed. Duplicates, malformed payloads and unroutable kinds are
// committed without running a handler; only a handler error holds the offset
// back for redelivery.
func (w *Worker) process(ctx context.Context, kind Kind, msg kafka.Message) bool {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	spanCtx, span := otel.Tracer("taskqueue").Start(msgCtx, "taskqueue.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	seen, err := w.inbox.Seen(spanCtx, meta.EventID)
	if err != nil {
		w.logger.Error("inbox lookup failed", "err", err)
		span.RecordError(err)
		return false
	}
	if seen {
		w.logger.Info("duplicate job ignored", "event_id", meta.EventID, "kind", kind)
		return true
	}

	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		w.logger.Error("invalid job payload", "err", err, "kind", kind)
		span.RecordError(err)
		return true
	}
	if job.Kind == "" {
		job.Kind = kind
	}

	handler := w.handlers[job.Kind]
	if handler == nil {
		w.logger.Error("no handler for job kind", "kind", job.Kind)
		return true
	}
	if err := handler(spanCtx, job); err != nil {
		w.logger.Error("job handler failed", "err", err, "kind", job.Kind, "key", job.Key)
		span.RecordError(err)
		return false
	}

	// Recorded only after success so a crash mid-handler re-runs the job.
	if _, err := w.inbox.Record(spanCtx, meta.EventID, meta.EventType); err != nil {
		w.logger.Error("inbox record failed", "err", err)
		span.RecordError(err)
	}
	return true
}
