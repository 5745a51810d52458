package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/schedkit/internal/message"
)

type PushSender interface {
	Send(ctx context.Context, userID string, msg *message.Message) error
}

// WebhookPushSender posts the message envelope to the push gateway, which
// resolves the user's registered devices.
type WebhookPushSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookPushSender(url string, token string) *WebhookPushSender {
	return &WebhookPushSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookPushSender) Send(ctx context.Context, userID string, msg *message.Message) error {
	if s.url == "" {
		return errors.New("push gateway url not configured")
	}
	payload := map[string]any{
		"userId":   userID,
		"subject":  msg.Subject,
		"body":     msg.Body,
		"dp":       msg.Meta.Dp,
		"category": msg.Meta.Category,
		"entity":   msg.Meta.Entity,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("push gateway returned non-2xx")
	}
	return nil
}

type NoopPushSender struct{}

func NewNoopPushSender() *NoopPushSender {
	return &NoopPushSender{}
}

func (s *NoopPushSender) Send(_ context.Context, _ string, _ *message.Message) error {
	return nil
}
