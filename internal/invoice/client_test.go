package invoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-declare/internal/session"
)

// mockSessions is a mock implementation of SessionSource
type mockSessions struct {
	sess *session.Session
}

func (m *mockSessions) Session() (*session.Session, bool) {
	return m.sess, m.sess != nil
}

// mockTable is a mock implementation of Table
type mockTable struct {
	mu        sync.Mutex
	inserted  []*Record
	records   []*Record
	selects   int
	updates   map[string]Status
	deleted   []string
	tokens    []string
	insertErr error
	selectErr error
	updateErr error
	deleteErr error
	onSelect  func(n int) []*Record
}

func newMockTable() *mockTable {
	return &mockTable{updates: make(map[string]Status)}
}

func (m *mockTable) Insert(_ context.Context, token string, rec *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	saved := *rec
	saved.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.inserted = append(m.inserted, &saved)
	return &saved, nil
}

func (m *mockTable) Select(_ context.Context, token string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	m.selects++
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	if m.onSelect != nil {
		return m.onSelect(m.selects), nil
	}
	return m.records, nil
}

func (m *mockTable) UpdateStatus(_ context.Context, token, id string, status Status) error {
	m.tokens = append(m.tokens, token)
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates[id] = status
	return nil
}

func (m *mockTable) Delete(_ context.Context, token, id string) error {
	m.tokens = append(m.tokens, token)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// mockBucket is a mock implementation of Bucket
type mockBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   []string
	removed   []string
	removeCtx []error
	failOn    map[string]error
	removeErr error
	block     chan struct{}
	started   chan struct{}
}

func newMockBucket() *mockBucket {
	return &mockBucket{
		objects: make(map[string][]byte),
		failOn:  make(map[string]error),
	}
}

func (m *mockBucket) Upload(_ context.Context, _ string, path string, data []byte) error {
	if m.started != nil {
		close(m.started)
		m.started = nil
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, path)
	if err := m.failOn[path]; err != nil {
		return err
	}
	if _, ok := m.objects[path]; ok {
		return ErrConflict
	}
	m.objects[path] = data
	return nil
}

func (m *mockBucket) Remove(ctx context.Context, _ string, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	m.removeCtx = append(m.removeCtx, ctx.Err())
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.objects, path)
	return nil
}

func (m *mockBucket) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *mockBucket) PublicURL(path string) string {
	return "https://store.test/public/" + path
}

// mockIDGenerator is a mock implementation of IDGenerator
type mockIDGenerator struct {
	ids   []string
	index int
}

func (m *mockIDGenerator) Generate() string {
	if m.index >= len(m.ids) {
		return fmt.Sprintf("generated-%d", m.index)
	}
	id := m.ids[m.index]
	m.index++
	return id
}

func aliceSession() *session.Session {
	return &session.Session{
		Token: session.Token{AccessToken: "alice-token"},
		Identity: session.Identity{
			ID:       "alice",
			Email:    "alice@example.com",
			Metadata: map[string]any{"full_name": "Alice Chen"},
		},
	}
}

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		sessions *mockSessions
		table    *mockTable
		bucket   *mockBucket
		ids      *mockIDGenerator
		client   *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		sessions = &mockSessions{sess: aliceSession()}
		table = newMockTable()
		bucket = newMockBucket()
		ids = &mockIDGenerator{ids: []string{"rec-1", "rec-2"}}
	})

	JustBeforeEach(func() {
		client = NewClientWithDeps(sessions, table, bucket, ids)
	})

	Describe("Submit", func() {
		var (
			req SubmitRequest
			rec *Record
			err error
		)

		BeforeEach(func() {
			req = SubmitRequest{
				Reason: "  Team lunch  ",
				Notes:  " receipt from the noodle shop ",
				Blobs:  [][]byte{[]byte("p1"), []byte("p2")},
			}
		})

		JustBeforeEach(func() {
			rec, err = client.Submit(ctx, req)
		})

		It("uploads the pages in order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(bucket.uploads).To(Equal([]string{"alice/rec-1/page_1.jpg", "alice/rec-1/page_2.jpg"}))
			Expect(bucket.objects["alice/rec-1/page_2.jpg"]).To(Equal([]byte("p2")))
		})

		It("inserts a pending record owned by the signed-in user", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(table.inserted).To(HaveLen(1))
			Expect(rec.ID).To(Equal("rec-1"))
			Expect(rec.OwnerID).To(Equal("alice"))
			Expect(rec.Status).To(Equal(StatusPending))
			Expect(rec.Reason).To(Equal("Team lunch"))
			Expect(rec.Notes).To(Equal("receipt from the noodle shop"))
			Expect(rec.ImagePaths).To(Equal([]string{"alice/rec-1/page_1.jpg", "alice/rec-1/page_2.jpg"}))
			Expect(rec.CreatorName).To(Equal("Alice Chen"))
			Expect(rec.CreatorEmail).To(Equal("alice@example.com"))
			Expect(rec.CreatedAt).NotTo(BeZero())
		})

		It("sends the session's token", func() {
			Expect(table.tokens).To(ConsistOf("alice-token"))
		})

		When("the reason is blank", func() {
			BeforeEach(func() {
				req.Reason = " \t "
			})

			It("fails before touching the store", func() {
				Expect(err).To(MatchError(ErrReasonRequired))
				Expect(bucket.uploads).To(BeEmpty())
				Expect(table.inserted).To(BeEmpty())
			})
		})

		When("there are no pages", func() {
			BeforeEach(func() {
				req.Blobs = nil
			})

			It("fails before touching the store", func() {
				Expect(err).To(MatchError(ErrNoPages))
				Expect(bucket.uploads).To(BeEmpty())
			})
		})

		When("nobody is signed in", func() {
			BeforeEach(func() {
				sessions.sess = nil
			})

			It("returns ErrNotAuthenticated", func() {
				Expect(err).To(MatchError(ErrNotAuthenticated))
				Expect(bucket.uploads).To(BeEmpty())
			})
		})

		When("a page path is already taken", func() {
			BeforeEach(func() {
				bucket.objects["alice/rec-1/page_2.jpg"] = []byte("old")
			})

			It("returns an upload conflict", func() {
				Expect(err).To(MatchError(ErrUploadConflict))
				Expect(err).To(MatchError(ErrConflict))
				Expect(rec).To(BeNil())
			})

			It("removes the pages it already uploaded", func() {
				Expect(bucket.removed).To(Equal([]string{"alice/rec-1/page_1.jpg"}))
				Expect(bucket.objects).NotTo(HaveKey("alice/rec-1/page_1.jpg"))
				Expect(bucket.objects["alice/rec-1/page_2.jpg"]).To(Equal([]byte("old")))
			})

			It("does not insert a record", func() {
				Expect(table.inserted).To(BeEmpty())
			})
		})

		When("an upload fails", func() {
			BeforeEach(func() {
				bucket.failOn["alice/rec-1/page_1.jpg"] = errors.New("connection reset")
			})

			It("returns ErrUploadFailed", func() {
				Expect(err).To(MatchError(ErrUploadFailed))
				Expect(err).To(MatchError(ContainSubstring("connection reset")))
				Expect(bucket.removed).To(BeEmpty())
				Expect(table.inserted).To(BeEmpty())
			})
		})

		When("the caller gives up while pages are uploading", func() {
			BeforeEach(func() {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
				bucket.failOn["alice/rec-1/page_2.jpg"] = context.Canceled
			})

			It("still removes the pages it already uploaded", func() {
				Expect(err).To(MatchError(ErrUploadFailed))
				Expect(bucket.removed).To(Equal([]string{"alice/rec-1/page_1.jpg"}))
				Expect(bucket.removeCtx).To(Equal([]error{nil}))
				Expect(bucket.objects).To(BeEmpty())
			})
		})

		When("the insert fails", func() {
			BeforeEach(func() {
				table.insertErr = ErrForbidden
			})

			It("returns ErrSaveFailed", func() {
				Expect(err).To(MatchError(ErrSaveFailed))
				Expect(err).To(MatchError(ErrForbidden))
			})

			It("removes every uploaded page", func() {
				Expect(bucket.removed).To(Equal([]string{"alice/rec-1/page_1.jpg", "alice/rec-1/page_2.jpg"}))
				Expect(bucket.objects).To(BeEmpty())
			})
		})

		When("cleanup also fails", func() {
			BeforeEach(func() {
				table.insertErr = errors.New("db down")
				bucket.removeErr = errors.New("still down")
			})

			It("still reports the original failure", func() {
				Expect(err).To(MatchError(ErrSaveFailed))
				Expect(err).To(MatchError(ContainSubstring("db down")))
			})
		})
	})

	Describe("Submit while another submission is running", func() {
		It("rejects the second submission", func() {
			bucket.block = make(chan struct{})
			bucket.started = make(chan struct{})
			started := bucket.started

			done := make(chan error, 1)
			go func() {
				_, err := client.Submit(ctx, SubmitRequest{Reason: "first", Blobs: [][]byte{[]byte("a")}})
				done <- err
			}()
			Eventually(started).Should(BeClosed())

			_, err := client.Submit(ctx, SubmitRequest{Reason: "second", Blobs: [][]byte{[]byte("b")}})
			Expect(err).To(MatchError(ErrSubmitInFlight))

			close(bucket.block)
			Eventually(done).Should(Receive(BeNil()))

			bucket.block = nil
			_, err = client.Submit(ctx, SubmitRequest{Reason: "third", Blobs: [][]byte{[]byte("c")}})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("List", func() {
		var (
			records []*Record
			err     error
		)

		BeforeEach(func() {
			table.records = []*Record{
				{ID: "old", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
				{ID: "new", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
				{ID: "mid", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
			}
		})

		JustBeforeEach(func() {
			records, err = client.List(ctx)
		})

		It("returns records newest first", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect([]string{records[0].ID, records[1].ID, records[2].ID}).To(Equal([]string{"new", "mid", "old"}))
		})

		When("there are none", func() {
			BeforeEach(func() {
				table.records = nil
			})

			It("returns an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(records).NotTo(BeNil())
				Expect(records).To(BeEmpty())
			})
		})

		When("the store denies the listing", func() {
			BeforeEach(func() {
				table.selectErr = fmt.Errorf("%w: row policy", ErrForbidden)
			})

			It("returns an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				table.selectErr = errors.New("timeout")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("listing invoices: timeout")))
			})
		})

		When("nobody is signed in", func() {
			BeforeEach(func() {
				sessions.sess = nil
			})

			It("returns ErrNotAuthenticated", func() {
				Expect(err).To(MatchError(ErrNotAuthenticated))
				Expect(table.selects).To(BeZero())
			})
		})
	})

	Describe("ListAfterSignIn", func() {
		It("lists a second time when the first listing is empty", func() {
			table.onSelect = func(n int) []*Record {
				if n == 1 {
					return nil
				}
				return []*Record{{ID: "rec-1"}}
			}

			records, err := client.ListAfterSignIn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(table.selects).To(Equal(2))
		})

		It("retries only once", func() {
			records, err := client.ListAfterSignIn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
			Expect(table.selects).To(Equal(2))
		})

		It("does not retry when records came back", func() {
			table.records = []*Record{{ID: "rec-1"}}

			_, err := client.ListAfterSignIn(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(table.selects).To(Equal(1))
		})
	})

	Describe("UpdateStatus", func() {
		It("sends the new status", func() {
			Expect(client.UpdateStatus(ctx, "rec-1", StatusApproved)).To(Succeed())
			Expect(table.updates).To(HaveKeyWithValue("rec-1", StatusApproved))
		})

		It("rejects unknown statuses without calling the store", func() {
			err := client.UpdateStatus(ctx, "rec-1", Status("archived"))
			Expect(err).To(MatchError(ErrInvalidStatus))
			Expect(table.updates).To(BeEmpty())
		})

		It("passes a policy denial through", func() {
			table.updateErr = ErrForbidden
			Expect(client.UpdateStatus(ctx, "rec-1", StatusRejected)).To(MatchError(ErrForbidden))
		})

		It("requires a session", func() {
			sessions.sess = nil
			Expect(client.UpdateStatus(ctx, "rec-1", StatusRejected)).To(MatchError(ErrNotAuthenticated))
		})
	})

	Describe("Delete", func() {
		It("deletes the record", func() {
			Expect(client.Delete(ctx, "rec-1")).To(Succeed())
			Expect(table.deleted).To(Equal([]string{"rec-1"}))
		})

		It("passes a policy denial through", func() {
			table.deleteErr = ErrForbidden
			Expect(client.Delete(ctx, "rec-1")).To(MatchError(ErrForbidden))
		})

		It("requires a session", func() {
			sessions.sess = nil
			Expect(client.Delete(ctx, "rec-1")).To(MatchError(ErrNotAuthenticated))
			Expect(table.deleted).To(BeEmpty())
		})
	})

	Describe("image URLs", func() {
		var rec *Record

		BeforeEach(func() {
			rec = &Record{ImagePaths: []string{"alice/rec-1/page_1.jpg", "alice/rec-1/page_2.jpg"}}
		})

		It("maps every page in order", func() {
			Expect(client.ImageURLs(rec)).To(Equal([]string{
				"https://store.test/public/alice/rec-1/page_1.jpg",
				"https://store.test/public/alice/rec-1/page_2.jpg",
			}))
		})

		It("uses the first page as the thumbnail", func() {
			Expect(client.ThumbnailURL(rec)).To(Equal("https://store.test/public/alice/rec-1/page_1.jpg"))
		})

		It("has no thumbnail without pages", func() {
			Expect(client.ThumbnailURL(&Record{})).To(BeEmpty())
		})

		It("needs no session", func() {
			sessions.sess = nil
			Expect(client.ImageURL("x/y/page_1.jpg")).To(Equal("https://store.test/public/x/y/page_1.jpg"))
		})
	})

	Describe("FetchPages", func() {
		It("downloads every page in order", func() {
			bucket.objects["a/r/page_1.jpg"] = []byte("one")
			bucket.objects["a/r/page_2.jpg"] = []byte("two")

			pages, err := client.FetchPages(ctx, &Record{ImagePaths: []string{"a/r/page_1.jpg", "a/r/page_2.jpg"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(Equal([][]byte{[]byte("one"), []byte("two")}))
		})

		It("reports which page is missing", func() {
			bucket.objects["a/r/page_1.jpg"] = []byte("one")

			_, err := client.FetchPages(ctx, &Record{ImagePaths: []string{"a/r/page_1.jpg", "a/r/page_2.jpg"}})
			Expect(err).To(MatchError(ErrNotFound))
			Expect(err).To(MatchError(ContainSubstring("downloading page 2")))
		})
	})
})
