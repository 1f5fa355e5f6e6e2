package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zombor/invoice-declare/internal/authz"
	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/session"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service applies the row level policy to every table and bucket operation.
type Service struct {
	db         DB
	bucket     Storage
	policy     authz.Policy
	timeSource TimeSource
}

// NewService creates a new Service enforcing the record policy
func NewService(db DB, bucket Storage) *Service {
	return NewServiceWithDeps(db, bucket, authz.RecordPolicy{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, bucket Storage, policy authz.Policy, timeSrc TimeSource) *Service {
	return &Service{
		db:         db,
		bucket:     bucket,
		policy:     policy,
		timeSource: timeSrc,
	}
}

// ListInvoices returns every record, newest first. Any signed-in identity
// may list; page content is obscured client side for non-owners.
func (s *Service) ListInvoices() ([]*invoice.Record, error) {
	records, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *Service) GetInvoice(id string) (*invoice.Record, error) {
	rec, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return rec, nil
}

// CreateInvoice inserts a record submitted by who. The record must be
// pending, owned by who, and point only at pages under its own prefix.
func (s *Service) CreateInvoice(who *session.Identity, rec *invoice.Record) (*invoice.Record, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if rec.OwnerID != who.ID {
		return nil, fmt.Errorf("%w: owner must be the signed-in user", ErrPolicy)
	}
	if rec.Status != invoice.StatusPending {
		return nil, fmt.Errorf("%w: new invoices must be pending", ErrPolicy)
	}
	if strings.TrimSpace(rec.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalid)
	}
	if len(rec.ImagePaths) == 0 {
		return nil, fmt.Errorf("%w: at least one page is required", ErrInvalid)
	}
	prefix := invoice.PagePrefix(rec.OwnerID, rec.ID)
	for _, p := range rec.ImagePaths {
		if !strings.HasPrefix(p, prefix) {
			return nil, fmt.Errorf("%w: page %s is outside %s", ErrPolicy, p, prefix)
		}
	}

	rec.CreatedAt = s.timeSource.Now().UTC()
	if err := s.db.InsertInvoice(rec); err != nil {
		return nil, fmt.Errorf("inserting invoice: %w", err)
	}
	slog.Info("Invoice created", "id", rec.ID, "owner", rec.OwnerID, "pages", len(rec.ImagePaths))
	return rec, nil
}

// UpdateStatus sets the status of a record if the policy lets who review it.
func (s *Service) UpdateStatus(who *session.Identity, id string, status invoice.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, status)
	}
	rec, err := s.GetInvoice(id)
	if err != nil {
		return err
	}
	if !s.policy.CanUpdateStatus(who, rec) {
		return fmt.Errorf("%w: only invoice admins may change status", ErrPolicy)
	}
	if err := s.db.UpdateInvoiceStatus(id, status); err != nil {
		return fmt.Errorf("updating invoice status: %w", err)
	}
	slog.Info("Invoice status updated", "id", id, "status", status, "by", who.ID)
	return nil
}

// DeleteInvoice removes a record and its pages if the policy lets who
// delete it. Pages that cannot be removed are logged and left behind.
func (s *Service) DeleteInvoice(who *session.Identity, id string) error {
	rec, err := s.GetInvoice(id)
	if err != nil {
		return err
	}
	if !s.policy.CanDelete(who, rec) {
		return fmt.Errorf("%w: only the owner may delete", ErrPolicy)
	}
	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}

	for _, p := range rec.ImagePaths {
		if err := s.bucket.Delete(p); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("Failed to delete page", "path", p, "error", err)
		}
	}
	slog.Info("Invoice deleted", "id", id, "by", who.ID)
	return nil
}

// PutObject stores a page. Identities may only write under their own prefix.
func (s *Service) PutObject(who *session.Identity, key string, data []byte) error {
	if !strings.HasPrefix(key, who.ID+"/") {
		return fmt.Errorf("%w: objects must live under %s/", ErrPolicy, who.ID)
	}
	if err := s.bucket.Put(key, data); err != nil {
		return fmt.Errorf("storing object: %w", err)
	}
	return nil
}

// RemoveObject deletes a page from who's own prefix.
func (s *Service) RemoveObject(who *session.Identity, key string) error {
	if !strings.HasPrefix(key, who.ID+"/") {
		return fmt.Errorf("%w: objects must live under %s/", ErrPolicy, who.ID)
	}
	if err := s.bucket.Delete(key); err != nil {
		return fmt.Errorf("removing object: %w", err)
	}
	return nil
}

// GetObject reads a page. Pages are publicly readable.
func (s *Service) GetObject(key string) ([]byte, error) {
	data, err := s.bucket.Get(key)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Identity loads the identity for a user ID. A user without a profile
// row has no role grants.
func (s *Service) Identity(userID, email string) (*session.Identity, error) {
	profile, err := s.db.GetProfile(userID)
	if errors.Is(err, ErrNotFound) {
		return &session.Identity{ID: userID, Email: email}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return profile.Identity(), nil
}

// SyncProfile records the identity returned by the identity provider.
// Existing role grants are kept.
func (s *Service) SyncProfile(id *session.Identity) (*session.Identity, error) {
	profile, err := s.db.GetProfile(id.ID)
	if errors.Is(err, ErrNotFound) {
		profile = &Profile{ID: id.ID, Roles: session.RoleGrants{}}
	} else if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	profile.Email = id.Email
	profile.Metadata = id.Metadata
	profile.UpdatedAt = s.timeSource.Now().UTC()
	if err := s.db.SaveProfile(profile); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return profile.Identity(), nil
}

// GrantRole adds role in area to a user's profile, creating the profile if
// the user has never signed in.
func (s *Service) GrantRole(userID, area, role string) error {
	profile, err := s.db.GetProfile(userID)
	if errors.Is(err, ErrNotFound) {
		profile = &Profile{ID: userID}
	} else if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	if profile.Roles == nil {
		profile.Roles = session.RoleGrants{}
	}
	if !profile.Roles.Has(area, role) {
		profile.Roles[area] = append(profile.Roles[area], role)
	}
	profile.UpdatedAt = s.timeSource.Now().UTC()
	if err := s.db.SaveProfile(profile); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	slog.Info("Role granted", "user", userID, "area", area, "role", role)
	return nil
}
