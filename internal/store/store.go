// Package store is the backing store for invoice declarations: an invoice
// table and a profile table in BoltDB, a page bucket on local disk, and the
// HTTP API, sign-in callback and route gating in front of them.
package store

import (
	"errors"
	"time"

	"github.com/zombor/invoice-declare/internal/session"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrObjectExists = errors.New("object already exists")
	ErrPolicy       = errors.New("denied by policy")
	ErrInvalid      = errors.New("invalid request")
)

// Profile is a row of the user_profiles table.
type Profile struct {
	ID        string             `json:"id"`
	Email     string             `json:"email"`
	Metadata  map[string]any     `json:"user_metadata,omitempty"`
	Roles     session.RoleGrants `json:"roles"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Identity is the profile as seen by the rest of the system.
func (p *Profile) Identity() *session.Identity {
	return &session.Identity{
		ID:       p.ID,
		Email:    p.Email,
		Metadata: p.Metadata,
		Roles:    p.Roles,
	}
}
