// Package session tracks who the current user is. It owns the identity and
// role grants, the signed session token, the locally cached session and the
// provider that publishes identity changes to the rest of the application.
package session

import (
	"encoding/json"
	"slices"
	"time"
)

// Identity is an authenticated actor.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
	Roles    RoleGrants     `json:"roles,omitempty"`
}

// DisplayName picks the friendliest available name: full_name, then name,
// then email.
func (i *Identity) DisplayName() string {
	for _, key := range []string{"full_name", "name"} {
		if v, ok := i.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return i.Email
}

// HasRole reports whether the identity holds role in area.
func (i *Identity) HasRole(area, role string) bool {
	if i == nil {
		return false
	}
	return i.Roles.Has(area, role)
}

// RoleGrants maps an application area (e.g. "invoice") to the roles granted
// in it. Decoding never fails: malformed input decodes to no grants, and
// areas whose value is not a list of strings are dropped.
type RoleGrants map[string][]string

// Has reports whether role is granted in area. A nil map grants nothing.
func (r RoleGrants) Has(area, role string) bool {
	return slices.Contains(r[area], role)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RoleGrants) UnmarshalJSON(data []byte) error {
	*r = ParseRoleGrants(data)
	return nil
}

// ParseRoleGrants decodes role grants leniently.
func ParseRoleGrants(data []byte) RoleGrants {
	grants := RoleGrants{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return grants
	}
	for area, v := range raw {
		var roles []string
		if err := json.Unmarshal(v, &roles); err != nil {
			continue
		}
		grants[area] = roles
	}
	return grants
}

// Token is a bearer session token as handed out by the store.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Session pairs a token with the identity it was issued to.
type Session struct {
	Token    Token
	Identity Identity
}
