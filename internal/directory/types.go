// Package directory is the contract with the user/identity service and the
// organization/tenant directory. Both are external systems; this package
// holds the types the core needs plus thin HTTP clients.
package directory

import "github.com/google/uuid"

type Pic struct {
	URL       string `json:"url,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type Profile struct {
	Title     string `json:"title,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Pic       Pic    `json:"pic,omitempty"`
}

type Role struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
}

type User struct {
	ID             uuid.UUID      `json:"id"`
	Code           string         `json:"code,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Profile        Profile        `json:"profile,omitempty"`
	Role           Role           `json:"role,omitempty"`
	Status         string         `json:"status,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	OrganizationID uuid.UUID      `json:"organizationId,omitempty"`
	TenantID       uuid.UUID      `json:"tenantId,omitempty"`
}

func (u *User) Name() string {
	if u == nil {
		return ""
	}
	name := u.Profile.FirstName
	if u.Profile.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.Profile.LastName
	}
	if name == "" {
		name = u.Code
	}
	return name
}

type Address struct {
	Line1    string `json:"line1,omitempty"`
	Line2    string `json:"line2,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	PinCode  string `json:"pinCode,omitempty"`
	Country  string `json:"country,omitempty"`
}

type Organization struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code,omitempty"`
	Name      string    `json:"name,omitempty"`
	ShortName string    `json:"shortName,omitempty"`
	Logo      Pic       `json:"logo,omitempty"`
	Address   Address   `json:"address,omitempty"`
	Owner     *User     `json:"owner,omitempty"`
}

type Tenant struct {
	ID    uuid.UUID `json:"id"`
	Code  string    `json:"code,omitempty"`
	Name  string    `json:"name,omitempty"`
	Logo  Pic       `json:"logo,omitempty"`
	Owner *User     `json:"owner,omitempty"`
}

// Context identifies the actor on whose behalf an operation runs.
type Context struct {
	Tenant       *Tenant
	Organization *Organization
	User         *User
}

func (c Context) OrganizationID() uuid.UUID {
	if c.Organization != nil {
		return c.Organization.ID
	}
	return uuid.Nil
}

func (c Context) TenantID() uuid.UUID {
	if c.Tenant != nil {
		return c.Tenant.ID
	}
	return uuid.Nil
}
