// Package document is the contract with the document rendering service,
// which turns (data, template) pairs into PDF or office-document bytes.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/schedkit/internal/fault"
)

const (
	MimePDF  = "application/pdf"
	MimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type Doc struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

type Renderer interface {
	// RenderByModel renders the template filled with data.
	RenderByModel(ctx context.Context, data map[string]any, template string, mimeType string) (Doc, error)
	// RenderByStoredID renders the template against server-side stored data.
	RenderByStoredID(ctx context.Context, id string, template string) (Doc, error)
	// RenderBody produces the subject (doc name) and body of a message from
	// its template and fill data.
	RenderBody(ctx context.Context, data map[string]any, template string) (Doc, error)
}

type HTTPRenderer struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPRenderer(baseURL, token string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (r *HTTPRenderer) RenderByModel(ctx context.Context, data map[string]any, template string, mimeType string) (Doc, error) {
	return r.render(ctx, "/render/model", map[string]any{
		"data":     data,
		"template": template,
		"mimeType": mimeType,
	})
}

func (r *HTTPRenderer) RenderByStoredID(ctx context.Context, id string, template string) (Doc, error) {
	return r.render(ctx, "/render/data", map[string]any{
		"id":       id,
		"template": template,
		"mimeType": MimePDF,
	})
}

func (r *HTTPRenderer) RenderBody(ctx context.Context, data map[string]any, template string) (Doc, error) {
	return r.render(ctx, "/render/body", map[string]any{
		"data":     data,
		"template": template,
	})
}

func (r *HTTPRenderer) render(ctx context.Context, path string, payload map[string]any) (Doc, error) {
	if r.baseURL == "" {
		return Doc{}, fault.External("document.render", errors.New("document service url not configured"))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Doc{}, fault.External("document.render", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Doc{}, fault.External("document.render", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return Doc{}, fault.External("document.render", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Doc{}, fault.External("document.render", fmt.Errorf("renderer returned %d", resp.StatusCode))
	}

	var doc Doc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Doc{}, fault.External("document.render", err)
	}
	return doc, nil
}
