// Package datasource is the contract with the external data-source service
// used to pre-resolve template fill data.
package datasource

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

type Fetcher interface {
	// Fetch runs the named data source keyed by data and returns its rows.
	Fetch(ctx context.Context, source string, data map[string]any) ([]map[string]any, error)
}

type HTTPFetcher struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string, data map[string]any) ([]map[string]any, error) {
	if f.baseURL == "" {
		return nil, fault.External("datasource.fetch", errors.New("data source url not configured"))
	}
	raw, err := json.Marshal(map[string]any{
		"dataSource": source,
		"data":       data,
	})
	if err != nil {
		return nil, fault.External("datasource.fetch", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/fetch", bytes.NewReader(raw))
	if err != nil {
		return nil, fault.External("datasource.fetch", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fault.External("datasource.fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fault.External("datasource.fetch", fmt.Errorf("data source returned %d", resp.StatusCode))
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fault.External("datasource.fetch", err)
	}
	return items, nil
}
