// Package authz decides what an identity may do with an invoice record.
// The same Policy gates actions in the client and is enforced by the store.
package authz

import (
	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/session"
)

// Action is something a viewer can do with a record.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionDelete   Action = "delete"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
)

// IsOwner reports whether id submitted rec.
func IsOwner(id *session.Identity, rec *invoice.Record) bool {
	if id == nil || rec == nil || id.ID == "" {
		return false
	}
	return id.ID == rec.OwnerID
}

// IsAdmin reports whether id holds the invoice admin role. Missing or
// malformed role data is never an admin.
func IsAdmin(id *session.Identity) bool {
	return id.HasRole(invoice.Area, invoice.AdminRole)
}

// Policy decides record mutations.
type Policy interface {
	CanDelete(id *session.Identity, rec *invoice.Record) bool
	CanUpdateStatus(id *session.Identity, rec *invoice.Record) bool
}

// RecordPolicy lets owners delete and admins review.
type RecordPolicy struct{}

func (RecordPolicy) CanDelete(id *session.Identity, rec *invoice.Record) bool {
	return IsOwner(id, rec)
}

func (RecordPolicy) CanUpdateStatus(id *session.Identity, _ *invoice.Record) bool {
	return IsAdmin(id)
}

// View is what a viewer gets to see and do with one record.
type View struct {
	Owner bool
	Admin bool
	// Obscured pages must be shown blurred. The record itself stays
	// visible so it can still be found in the list.
	Obscured bool
	Actions  []Action
}

// Resolve works out the View of rec for id under p.
func Resolve(p Policy, id *session.Identity, rec *invoice.Record) View {
	v := View{
		Owner: IsOwner(id, rec),
		Admin: IsAdmin(id),
	}
	v.Obscured = !v.Owner
	v.Actions = []Action{ActionView}
	if v.Owner || v.Admin {
		v.Actions = append(v.Actions, ActionDownload)
	}
	if p.CanDelete(id, rec) {
		v.Actions = append(v.Actions, ActionDelete)
	}
	if p.CanUpdateStatus(id, rec) {
		v.Actions = append(v.Actions, ActionApprove, ActionReject)
	}
	return v
}

// Allows reports whether a is offered.
func (v View) Allows(a Action) bool {
	for _, have := range v.Actions {
		if have == a {
			return true
		}
	}
	return false
}
