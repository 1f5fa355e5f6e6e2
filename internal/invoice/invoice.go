// Package invoice holds the invoice declaration model and the client that
// submits, lists and reviews declarations against the backing store.
package invoice

import (
	"fmt"
	"time"
)

const (
	// BucketName is the blob store bucket holding page images.
	BucketName = "invoice"

	// Area is the role-grant area consulted for invoice permissions.
	Area = "invoice"

	// AdminRole is the role in Area that may approve and reject.
	AdminRole = "admin"
)

// Status is the review state of an invoice.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Record is one declared expense.
type Record struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"user_id"`
	Reason       string    `json:"reason"`
	Notes        string    `json:"notes"`
	Status       Status    `json:"status"`
	ImagePaths   []string  `json:"image_paths"`
	CreatedAt    time.Time `json:"created_at"`
	CreatorName  string    `json:"creator_name,omitempty"`
	CreatorEmail string    `json:"creator_email,omitempty"`
}

// PagePath is the storage path of page n (1-based) of a record.
func PagePath(ownerID, recordID string, n int) string {
	return fmt.Sprintf("%s/%s/page_%d.jpg", ownerID, recordID, n)
}

// PagePrefix is the storage prefix every page of a record lives under.
func PagePrefix(ownerID, recordID string) string {
	return ownerID + "/" + recordID + "/"
}
