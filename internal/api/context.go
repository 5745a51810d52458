package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/directory"
)

const (
	headerUserID    = "X-User-Id"
	headerOrgID     = "X-Organization-Id"
	headerTenantID  = "X-Tenant-Id"
	headerUserCode  = "X-User-Code"
	headerOrgCode   = "X-Organization-Code"
	headerTenantKey = "X-Tenant-Code"
)

// ActorResolver builds the acting context from the gateway-forwarded identity
// headers. Lookups are best-effort: an id header that fails resolution still
// yields a context carrying that id.
type ActorResolver struct {
	users     directory.Users
	directory directory.Directory
}

func NewActorResolver(users directory.Users, dir directory.Directory) *ActorResolver {
	return &ActorResolver{users: users, directory: dir}
}

func (ar *ActorResolver) Resolve(r *http.Request) directory.Context {
	ctx := r.Context()
	var actx directory.Context

	if key := headerValue(r, headerOrgID, headerOrgCode); key != "" {
		if ar.directory != nil {
			if org, err := ar.directory.GetOrganization(ctx, key); err == nil && org != nil {
				actx.Organization = org
			}
		}
		if actx.Organization == nil {
			if id, err := uuid.Parse(key); err == nil {
				actx.Organization = &directory.Organization{ID: id}
			}
		}
	}

	if key := headerValue(r, headerTenantID, headerTenantKey); key != "" {
		if ar.directory != nil {
			if tenant, err := ar.directory.GetTenant(ctx, key); err == nil && tenant != nil {
				actx.Tenant = tenant
			}
		}
		if actx.Tenant == nil {
			if id, err := uuid.Parse(key); err == nil {
				actx.Tenant = &directory.Tenant{ID: id}
			}
		}
	}

	if key := headerValue(r, headerUserID, headerUserCode); key != "" {
		ref := directory.UserRef{Code: key}
		if id, err := uuid.Parse(key); err == nil {
			ref = directory.UserRef{ID: id}
		}
		if ar.users != nil {
			if user, err := ar.users.Get(ctx, ref, actx); err == nil && user != nil {
				actx.User = user
			}
		}
		if actx.User == nil && ref.ID != uuid.Nil {
			actx.User = &directory.User{ID: ref.ID}
		}
	}
	return actx
}

func headerValue(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.Header.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
