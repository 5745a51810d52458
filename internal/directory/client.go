package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/fault"
)

// UserRef identifies a user by id, by code, or by an embedded object (email
// and profile supplied inline). Meta, when set, is persisted onto the
// resolved user.
type UserRef struct {
	ID      uuid.UUID      `json:"id,omitempty"`
	Code    string         `json:"code,omitempty"`
	Email   string         `json:"email,omitempty"`
	Phone   string         `json:"phone,omitempty"`
	Profile *Profile       `json:"profile,omitempty"`
	Role    *Role          `json:"role,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func (r UserRef) IsZero() bool {
	return r.ID == uuid.Nil && r.Code == "" && r.Email == "" && r.Phone == ""
}

// RefByCode is a convenience for the common code-only lookup.
func RefByCode(code string) UserRef { return UserRef{Code: code} }

// Users resolves user identities. Get returns (nil, nil) when no user
// matches; infrastructure failures come back as ExternalServiceError.
type Users interface {
	Get(ctx context.Context, ref UserRef, actx Context) (*User, error)
}

// Directory resolves organizations and tenants by id or code.
type Directory interface {
	GetOrganization(ctx context.Context, idOrCode string) (*Organization, error)
	GetTenant(ctx context.Context, idOrCode string) (*Tenant, error)
}

// HTTPClient talks JSON to the identity service.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *HTTPClient) Get(ctx context.Context, ref UserRef, actx Context) (*User, error) {
	if c.baseURL == "" {
		return nil, fault.External("directory.users.get", errors.New("directory url not configured"))
	}
	if ref.IsZero() {
		return nil, nil
	}

	var user User
	status, err := c.do(ctx, http.MethodGet, c.userPath(ref), nil, actx, &user)
	if err != nil {
		return nil, fault.External("directory.users.get", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	// A meta patch on the reference is persisted onto the resolved user.
	if len(ref.Meta) > 0 {
		user.Meta = ref.Meta
		patch := map[string]any{"meta": ref.Meta}
		if _, err := c.do(ctx, http.MethodPut, "/users/"+user.ID.String(), patch, actx, nil); err != nil {
			return nil, fault.External("directory.users.patch", err)
		}
	}
	return &user, nil
}

func (c *HTTPClient) GetOrganization(ctx context.Context, idOrCode string) (*Organization, error) {
	var org Organization
	status, err := c.do(ctx, http.MethodGet, "/organizations/"+url.PathEscape(idOrCode), nil, Context{}, &org)
	if err != nil {
		return nil, fault.External("directory.organizations.get", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &org, nil
}

func (c *HTTPClient) GetTenant(ctx context.Context, idOrCode string) (*Tenant, error) {
	var tenant Tenant
	status, err := c.do(ctx, http.MethodGet, "/tenants/"+url.PathEscape(idOrCode), nil, Context{}, &tenant)
	if err != nil {
		return nil, fault.External("directory.tenants.get", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &tenant, nil
}

func (c *HTTPClient) userPath(ref UserRef) string {
	switch {
	case ref.ID != uuid.Nil:
		return "/users/" + ref.ID.String()
	case ref.Code != "":
		return "/users/" + url.PathEscape(ref.Code)
	default:
		return "/users/" + url.PathEscape(ref.Email)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, actx Context, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if actx.Organization != nil {
		req.Header.Set("X-Organization-Id", actx.Organization.ID.String())
	}
	if actx.Tenant != nil {
		req.Header.Set("X-Tenant-Id", actx.Tenant.ID.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("directory returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
