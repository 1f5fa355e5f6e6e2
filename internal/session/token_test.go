package session

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TokenManager", func() {
	const secret = "0123456789abcdef0123456789abcdef"

	var (
		manager *TokenManager
		now     time.Time
		id      Identity
	)

	BeforeEach(func() {
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		manager = NewTokenManager(secret, "invoice-declare", time.Hour)
		manager.now = func() time.Time { return now }
		id = Identity{ID: "user-1", Email: "ada@example.com", Metadata: map[string]any{"full_name": "Ada"}}
	})

	It("round-trips the identity claims", func() {
		tok, err := manager.Issue(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.ExpiresAt).To(Equal(now.Add(time.Hour)))

		claims, err := manager.Verify(tok.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Subject).To(Equal("user-1"))
		Expect(claims.Email).To(Equal("ada@example.com"))
		Expect(claims.Name).To(Equal("Ada"))
	})

	It("rejects expired tokens", func() {
		tok, err := manager.Issue(id)
		Expect(err).NotTo(HaveOccurred())
		now = now.Add(2 * time.Hour)
		_, err = manager.Verify(tok.AccessToken)
		Expect(err).To(HaveOccurred())
	})

	It("rejects tokens signed with another secret", func() {
		other := NewTokenManager("ffffffffffffffffffffffffffffffff", "invoice-declare", time.Hour)
		other.now = manager.now
		tok, err := other.Issue(id)
		Expect(err).NotTo(HaveOccurred())
		_, err = manager.Verify(tok.AccessToken)
		Expect(err).To(HaveOccurred())
	})

	It("rejects tokens from another issuer", func() {
		other := NewTokenManager(secret, "someone-else", time.Hour)
		other.now = manager.now
		tok, err := other.Issue(id)
		Expect(err).NotTo(HaveOccurred())
		_, err = manager.Verify(tok.AccessToken)
		Expect(err).To(HaveOccurred())
	})

	It("rejects empty and garbage tokens", func() {
		_, err := manager.Verify("")
		Expect(err).To(HaveOccurred())
		_, err = manager.Verify("not.a.token")
		Expect(err).To(HaveOccurred())
	})
})
