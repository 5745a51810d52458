package delivery

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/internal/message"
	"github.com/careloop/schedkit/internal/taskqueue"
)

// Dispatcher delivers a persisted message over each of its enabled modes.
// One recipient failing a channel does not stop the rest; the first error is
// reported after the fan-out so the queue can retry.
type Dispatcher struct {
	messages message.Repository
	email    EmailSender
	sms      SMSSender
	push     PushSender
	logger   *slog.Logger
}

func NewDispatcher(messages message.Repository, email EmailSender, sms SMSSender, push PushSender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		email:    email,
		sms:      sms,
		push:     push,
		logger:   logger,
	}
}

type deliverPayload struct {
	MessageID string `json:"messageId"`
}

// HandleJob is the worker entry point for queued deliveries. A message that
// no longer exists is treated as done, not retried.
func (d *Dispatcher) HandleJob(ctx context.Context, job taskqueue.Job) error {
	var payload deliverPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fault.Validation("malformed deliver-message payload")
	}
	id, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return fault.Validation("malformed message id")
	}

	msg, err := d.messages.Get(ctx, id)
	if fault.IsNotFound(err) {
		d.logger.Warn("message vanished before delivery", "message_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	return d.Deliver(ctx, msg)
}

func (d *Dispatcher) Deliver(ctx context.Context, msg *message.Message) error {
	if msg.Status == message.StatusDelivered {
		return nil
	}

	var firstErr error
	for _, mode := range msg.Modes {
		if err := d.deliverMode(ctx, msg, mode); err != nil {
			d.logger.Error("channel delivery failed", "err", err, "mode", mode, "message_id", msg.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	msg.Status = message.StatusDelivered
	if err := d.messages.Update(ctx, msg); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) deliverMode(ctx context.Context, msg *message.Message, mode string) error {
	var firstErr error
	for _, rcpt := range msg.To {
		var err error
		switch mode {
		case message.ModeEmail:
			if rcpt.Email == "" || d.email == nil {
				continue
			}
			err = d.email.Send(rcpt.Email, msg.Subject, msg.Body, msg.Attachments)
		case message.ModeSMS:
			if rcpt.Phone == "" || d.sms == nil {
				continue
			}
			err = d.sms.Send(ctx, rcpt.Phone, msg.Body)
		case message.ModePush, message.ModeBot:
			if d.push == nil {
				continue
			}
			err = d.push.Send(ctx, rcpt.UserID.String(), msg)
		default:
			d.logger.Warn("unknown delivery mode", "mode", mode, "message_id", msg.ID)
			continue
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
