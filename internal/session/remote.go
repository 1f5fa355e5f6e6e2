package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the store rejects a token.
var ErrUnauthorized = errors.New("unauthorized")

// RemoteAuth talks to the store's auth endpoints.
type RemoteAuth struct {
	baseURL   string
	publicKey string
	client    *http.Client
}

// NewRemoteAuth creates a RemoteAuth for the store at baseURL.
func NewRemoteAuth(baseURL, publicKey string) *RemoteAuth {
	return &RemoteAuth{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// User fetches the identity behind accessToken.
func (a *RemoteAuth) User(ctx context.Context, accessToken string) (*Identity, error) {
	var id Identity
	if err := a.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, &id); err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("fetching user: empty identity")
	}
	return &id, nil
}

// Refresh exchanges accessToken for a new token.
func (a *RemoteAuth) Refresh(ctx context.Context, accessToken string) (*Token, error) {
	var tok Token
	if err := a.do(ctx, http.MethodPost, "/auth/v1/token/refresh", accessToken, &tok); err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return &tok, nil
}

// AuthorizeURL builds the store's sign-in URL.
func (a *RemoteAuth) AuthorizeURL(provider, scopes, next string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("scopes", scopes)
	q.Set("next", next)
	return a.baseURL + "/auth/v1/authorize?" + q.Encode()
}

func (a *RemoteAuth) do(ctx context.Context, method, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if a.publicKey != "" {
		req.Header.Set("apikey", a.publicKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("store error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
