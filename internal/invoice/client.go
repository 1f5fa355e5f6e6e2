package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-declare/internal/session"
)

// Table is the relational side of the backing store.
type Table interface {
	Insert(ctx context.Context, accessToken string, rec *Record) (*Record, error)
	Select(ctx context.Context, accessToken string) ([]*Record, error)
	UpdateStatus(ctx context.Context, accessToken, id string, status Status) error
	Delete(ctx context.Context, accessToken, id string) error
}

// Bucket is the blob side of the backing store.
type Bucket interface {
	// Upload stores data at path and never overwrites; a taken path
	// returns ErrConflict.
	Upload(ctx context.Context, accessToken, path string, data []byte) error
	Remove(ctx context.Context, accessToken, path string) error
	Download(ctx context.Context, path string) ([]byte, error)
	// PublicURL maps a stored path to a fetchable URL without any I/O.
	PublicURL(path string) string
}

// SessionSource supplies the current session.
type SessionSource interface {
	Session() (*session.Session, bool)
}

// IDGenerator generates record IDs
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// SubmitRequest is what the user declares.
type SubmitRequest struct {
	Reason string
	Notes  string
	Blobs  [][]byte
}

// Client performs invoice operations on behalf of the current session.
type Client struct {
	sessions    SessionSource
	table       Table
	bucket      Bucket
	idGenerator IDGenerator
	submitting  atomic.Bool
}

// NewClient creates a Client generating random UUID record IDs.
func NewClient(sessions SessionSource, table Table, bucket Bucket) *Client {
	return NewClientWithDeps(sessions, table, bucket, uuidGenerator{})
}

// NewClientWithDeps creates a Client with a custom ID generator for testing
func NewClientWithDeps(sessions SessionSource, table Table, bucket Bucket, idGen IDGenerator) *Client {
	return &Client{
		sessions:    sessions,
		table:       table,
		bucket:      bucket,
		idGenerator: idGen,
	}
}

func (c *Client) session() (*session.Session, error) {
	sess, ok := c.sessions.Session()
	if !ok || sess == nil {
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// Submit uploads the pages in order and then inserts a pending record.
// Nothing is sent when the request is invalid. If any step fails the pages
// already uploaded by this attempt are removed again.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if len(req.Blobs) == 0 {
		return nil, ErrNoPages
	}
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	if !c.submitting.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer c.submitting.Store(false)

	token := sess.Token.AccessToken
	owner := sess.Identity.ID
	id := c.idGenerator.Generate()

	paths := make([]string, 0, len(req.Blobs))
	for i, blob := range req.Blobs {
		path := PagePath(owner, id, i+1)
		if err := c.bucket.Upload(ctx, token, path, blob); err != nil {
			c.removePages(ctx, token, paths)
			if errors.Is(err, ErrConflict) {
				return nil, fmt.Errorf("%w: %s: %w", ErrUploadConflict, path, err)
			}
			return nil, fmt.Errorf("%w: page %d: %w", ErrUploadFailed, i+1, err)
		}
		paths = append(paths, path)
	}

	rec := &Record{
		ID:           id,
		OwnerID:      owner,
		Reason:       reason,
		Notes:        strings.TrimSpace(req.Notes),
		Status:       StatusPending,
		ImagePaths:   paths,
		CreatorName:  sess.Identity.DisplayName(),
		CreatorEmail: sess.Identity.Email,
	}
	saved, err := c.table.Insert(ctx, token, rec)
	if err != nil {
		c.removePages(ctx, token, paths)
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	slog.Info("Invoice submitted", "id", saved.ID, "pages", len(paths))
	return saved, nil
}

// removePages is the compensating cleanup for a failed submission. It runs
// even when ctx was cancelled mid-upload.
func (c *Client) removePages(ctx context.Context, token string, paths []string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range paths {
		if err := c.bucket.Remove(ctx, token, p); err != nil {
			slog.Warn("Failed to remove uploaded page", "path", p, "error", err)
		}
	}
}

// List returns every record the store lets the current identity see,
// newest first. A broad denial reads as an empty list.
func (c *Client) List(ctx context.Context) ([]*Record, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}

	records, err := c.table.Select(ctx, sess.Token.AccessToken)
	if errors.Is(err, ErrForbidden) {
		slog.Warn("Listing invoices was denied", "user", sess.Identity.ID)
		return []*Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	if records == nil {
		records = []*Record{}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ListAfterSignIn lists, and lists once more if the first result is empty.
// Right after signing in the store may not see the new session yet.
func (c *Client) ListAfterSignIn(ctx context.Context) ([]*Record, error) {
	records, err := c.List(ctx)
	if err != nil || len(records) > 0 {
		return records, err
	}
	return c.List(ctx)
}

// UpdateStatus sets the review status of a record. The store only allows
// invoice admins to do so.
func (c *Client) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	sess, err := c.session()
	if err != nil {
		return err
	}
	if err := c.table.UpdateStatus(ctx, sess.Token.AccessToken, id, status); err != nil {
		return fmt.Errorf("updating invoice %s: %w", id, err)
	}
	return nil
}

// Delete removes a record. The store only allows its owner to do so.
func (c *Client) Delete(ctx context.Context, id string) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	if err := c.table.Delete(ctx, sess.Token.AccessToken, id); err != nil {
		return fmt.Errorf("deleting invoice %s: %w", id, err)
	}
	return nil
}

// ImageURL maps a stored page path to its public URL.
func (c *Client) ImageURL(path string) string {
	return c.bucket.PublicURL(path)
}

// ImageURLs returns the public URLs of every page of rec, in page order.
func (c *Client) ImageURLs(rec *Record) []string {
	urls := make([]string, len(rec.ImagePaths))
	for i, p := range rec.ImagePaths {
		urls[i] = c.ImageURL(p)
	}
	return urls
}

// ThumbnailURL is the first page's URL, or empty when there are no pages.
func (c *Client) ThumbnailURL(rec *Record) string {
	if len(rec.ImagePaths) == 0 {
		return ""
	}
	return c.ImageURL(rec.ImagePaths[0])
}

// fetchConcurrency bounds parallel page downloads.
const fetchConcurrency = 4

// FetchPages downloads every page of rec in page order.
func (c *Client) FetchPages(ctx context.Context, rec *Record) ([][]byte, error) {
	pages := make([][]byte, len(rec.ImagePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, p := range rec.ImagePaths {
		g.Go(func() error {
			data, err := c.bucket.Download(gctx, p)
			if err != nil {
				return fmt.Errorf("downloading page %d: %w", i+1, err)
			}
			pages[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}
