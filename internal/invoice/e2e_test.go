package invoice_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-declare/internal/authz"
	"github.com/zombor/invoice-declare/internal/invoice"
	"github.com/zombor/invoice-declare/internal/normalize"
	"github.com/zombor/invoice-declare/internal/session"
	"github.com/zombor/invoice-declare/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type user struct {
	provider *session.Provider
	client   *invoice.Client
}

func rasterBytes(w, h int, encode func(io.Writer, image.Image) error) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

func threePagePDF() []byte {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: gofpdf.SizeType{Wd: 100, Ht: 100}})
	for _, h := range []float64{100, 200, 300} {
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: 100, Ht: h})
	}
	var buf bytes.Buffer
	Expect(pdf.Output(&buf)).To(Succeed())
	return buf.Bytes()
}

func imageSize(data []byte) (int, int) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	return cfg.Width, cfg.Height
}

var _ = Describe("Declaring invoices end to end", func() {
	var (
		ctx     context.Context
		service *store.Service
		db      *store.BoltDB
		bucket  *store.LocalBucket
		httpSrv *httptest.Server
		tokens  *session.TokenManager
		dir     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		var err error
		db, err = store.NewBoltDB(filepath.Join(dir, "store.db"))
		Expect(err).NotTo(HaveOccurred())
		bucket, err = store.NewLocalBucket(filepath.Join(dir, "objects"))
		Expect(err).NotTo(HaveOccurred())
		service = store.NewService(db, bucket)
		Expect(service.GrantRole("bob", invoice.Area, invoice.AdminRole)).To(Succeed())

		tokens = session.NewTokenManager(testSecret, "invoice-declare", time.Hour)
		httpSrv = httptest.NewServer(store.NewServer(service, store.Auth{Tokens: tokens, PublicKey: "public-key"}))
	})

	AfterEach(func() {
		httpSrv.Close()
		db.Close()
	})

	signIn := func(id, name string) *user {
		auth := session.NewRemoteAuth(httpSrv.URL, "public-key")
		cache := session.NewFileCache(filepath.Join(dir, id, "session.json"))
		provider := session.NewProvider(auth, cache)
		Expect(provider.Init(ctx)).To(Equal(session.Anonymous))

		tok, err := tokens.Issue(session.Identity{ID: id, Email: id + "@example.com"})
		Expect(err).NotTo(HaveOccurred())
		_, err = service.SyncProfile(&session.Identity{
			ID:       id,
			Email:    id + "@example.com",
			Metadata: map[string]any{"full_name": name},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(provider.SignIn(ctx, tok)).To(Succeed())
		Expect(provider.State()).To(Equal(session.Authenticated))

		remote := invoice.NewRemote(httpSrv.URL, "public-key")
		return &user{provider: provider, client: invoice.NewClient(provider, remote, remote)}
	}

	submit := func(u *user, reason string, files ...normalize.File) *invoice.Record {
		pages, err := normalize.NormalizeAll(files)
		Expect(err).NotTo(HaveOccurred())
		rec, err := u.client.Submit(ctx, invoice.SubmitRequest{Reason: reason, Blobs: normalize.Blobs(pages)})
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	It("stores a single JPEG as one pending page", func() {
		alice := signIn("alice", "Alice Chen")
		rec := submit(alice, "equipment", normalize.File{
			Name: "receipt.jpg", ContentType: "image/jpeg", Data: rasterBytes(40, 30, func(w io.Writer, img image.Image) error { return jpeg.Encode(w, img, nil) }),
		})

		Expect(rec.Status).To(Equal(invoice.StatusPending))
		Expect(rec.OwnerID).To(Equal("alice"))
		Expect(rec.CreatorName).To(Equal("Alice Chen"))
		Expect(rec.ImagePaths).To(Equal([]string{"alice/" + rec.ID + "/page_1.jpg"}))

		stored, err := bucket.Get(rec.ImagePaths[0])
		Expect(err).NotTo(HaveOccurred())
		w, h := imageSize(stored)
		Expect([]int{w, h}).To(Equal([]int{40, 30}))

		records, err := alice.client.ListAfterSignIn(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].ID).To(Equal(rec.ID))
	})

	It("lets an admin approve but not delete someone else's invoice", func() {
		alice := signIn("alice", "Alice Chen")
		bob := signIn("bob", "Bob Lin")
		rec := submit(alice, "travel", normalize.File{
			Name: "ticket.png", ContentType: "image/png", Data: rasterBytes(20, 20, png.Encode),
		})

		Expect(bob.client.UpdateStatus(ctx, rec.ID, invoice.StatusApproved)).To(Succeed())
		Expect(bob.client.Delete(ctx, rec.ID)).To(MatchError(invoice.ErrForbidden))

		records, err := alice.client.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Status).To(Equal(invoice.StatusApproved))

		Expect(alice.client.UpdateStatus(ctx, rec.ID, invoice.StatusRejected)).To(MatchError(invoice.ErrForbidden))
		Expect(alice.client.Delete(ctx, rec.ID)).To(Succeed())
		_, err = bucket.Get(rec.ImagePaths[0])
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("obscures pages for viewers who are neither owner nor admin", func() {
		alice := signIn("alice", "Alice Chen")
		carol := signIn("carol", "Carol Wu")
		submit(alice, "books", normalize.File{
			Name: "books.png", ContentType: "image/png", Data: rasterBytes(10, 10, png.Encode),
		})

		records, err := carol.client.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))

		view := authz.Resolve(authz.RecordPolicy{}, carol.provider.Identity(), records[0])
		Expect(view.Obscured).To(BeTrue())
		Expect(view.Allows(authz.ActionView)).To(BeTrue())
		Expect(view.Allows(authz.ActionDownload)).To(BeFalse())
		Expect(view.Allows(authz.ActionDelete)).To(BeFalse())
		Expect(carol.client.ThumbnailURL(records[0])).NotTo(BeEmpty())
	})

	It("numbers the pages of a PDF and an image in submission order", func() {
		alice := signIn("alice", "Alice Chen")
		rec := submit(alice, "conference",
			normalize.File{Name: "slides.pdf", ContentType: "application/pdf", Data: threePagePDF()},
			normalize.File{Name: "badge.png", ContentType: "image/png", Data: rasterBytes(33, 11, png.Encode)},
		)

		Expect(rec.ImagePaths).To(HaveLen(4))
		for i, p := range rec.ImagePaths {
			Expect(p).To(Equal(invoice.PagePath("alice", rec.ID, i+1)))
		}

		pages, err := alice.client.FetchPages(ctx, rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(pages).To(HaveLen(4))
		heights := make([]int, len(pages))
		for i, p := range pages {
			_, heights[i] = imageSize(p)
		}
		Expect(heights[0]).To(BeNumerically("<", heights[1]))
		Expect(heights[1]).To(BeNumerically("<", heights[2]))
		Expect(heights[3]).To(Equal(11))
	})

	It("refuses a blank reason before anything is uploaded", func() {
		alice := signIn("alice", "Alice Chen")

		_, err := alice.client.Submit(ctx, invoice.SubmitRequest{Reason: "  ", Blobs: [][]byte{[]byte("x")}})
		Expect(err).To(MatchError(invoice.ErrReasonRequired))
		records, err := service.ListInvoices()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})

	It("rejects every operation after sign-out", func() {
		alice := signIn("alice", "Alice Chen")
		Expect(alice.provider.SignOut()).To(Succeed())

		_, err := alice.client.List(ctx)
		Expect(err).To(MatchError(invoice.ErrNotAuthenticated))
	})
})
