package message

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/careloop/schedkit/internal/directory"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// substitutionContext builds the fixed-schema object placeholders resolve
// against: {data, context: {tenant, organization, user}} with only the
// displayable fields of each exposed.
func substitutionContext(data map[string]any, actx directory.Context) map[string]any {
	ctx := map[string]any{}
	if actx.Tenant != nil {
		ctx["tenant"] = map[string]any{
			"id":   actx.Tenant.ID.String(),
			"code": actx.Tenant.Code,
			"name": actx.Tenant.Name,
			"logo": actx.Tenant.Logo.URL,
		}
	}
	if actx.Organization != nil {
		ctx["organization"] = map[string]any{
			"id":   actx.Organization.ID.String(),
			"code": actx.Organization.Code,
			"name": actx.Organization.Name,
			"logo": actx.Organization.Logo.URL,
			"address": map[string]any{
				"line1":   actx.Organization.Address.Line1,
				"line2":   actx.Organization.Address.Line2,
				"city":    actx.Organization.Address.City,
				"state":   actx.Organization.Address.State,
				"pinCode": actx.Organization.Address.PinCode,
				"country": actx.Organization.Address.Country,
			},
		}
	}
	if actx.User != nil {
		ctx["user"] = map[string]any{
			"id":    actx.User.ID.String(),
			"code":  actx.User.Code,
			"email": actx.User.Email,
			"phone": actx.User.Phone,
			"profile": map[string]any{
				"firstName": actx.User.Profile.FirstName,
				"lastName":  actx.User.Profile.LastName,
			},
			"role": map[string]any{
				"id": actx.User.Role.ID,
			},
		}
	}
	return map[string]any{
		"data":    data,
		"context": ctx,
	}
}

// substitute replaces every {{dotted.path}} in s with the value looked up in
// scope. Unknown paths resolve to the empty string.
func substitute(s string, scope map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		return lookupString(scope, path)
	})
}

// substituteTree walks v and substitutes placeholders in every string leaf.
func substituteTree(v any, scope map[string]any) any {
	switch val := v.(type) {
	case string:
		return substitute(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteTree(item, scope)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteTree(item, scope)
		}
		return out
	default:
		return v
	}
}

// lookup traverses a dotted path through nested maps.
func lookup(scope map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = scope
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupString(scope map[string]any, path string) string {
	v, ok := lookup(scope, path)
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case bool, int, int64, float64:
		return fmt.Sprint(s)
	default:
		return ""
	}
}
