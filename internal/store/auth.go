package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/zombor/invoice-declare/internal/session"
)

// ErrExchange is returned when an authorization code cannot be turned into
// an identity.
var ErrExchange = errors.New("code exchange failed")

// Exchanger talks to the identity provider.
type Exchanger interface {
	AuthCodeURL(state string, scopes []string) string
	Exchange(ctx context.Context, code string) (*session.Identity, error)
}

// OAuthExchanger exchanges authorization codes with an OAuth2 provider and
// reads the signed-in user from its userinfo endpoint.
type OAuthExchanger struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewOAuthExchanger creates an OAuthExchanger
func NewOAuthExchanger(config *oauth2.Config, userInfoURL string) *OAuthExchanger {
	return &OAuthExchanger{config: config, userInfoURL: userInfoURL}
}

func (o *OAuthExchanger) AuthCodeURL(state string, scopes []string) string {
	var opts []oauth2.AuthCodeOption
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	}
	return o.config.AuthCodeURL(state, opts...)
}

func (o *OAuthExchanger) Exchange(ctx context.Context, code string) (*session.Identity, error) {
	tok, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	resp, err := o.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching userinfo: %w", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrExchange, resp.StatusCode)
	}

	var info struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding userinfo: %w", ErrExchange, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo has no subject", ErrExchange)
	}

	metadata := map[string]any{}
	if info.Name != "" {
		metadata["full_name"] = info.Name
	}
	if info.Picture != "" {
		metadata["avatar_url"] = info.Picture
	}
	return &session.Identity{ID: info.Sub, Email: info.Email, Metadata: metadata}, nil
}

const (
	sessionCookieName = "invoice_session"
	stateCookieName   = "invoice_oauth_state"
	stateCookieTTL    = 10 * time.Minute
)

// CookieOptions scope the cookies the server sets.
type CookieOptions struct {
	Domain string
	Secure bool
}

// CookiePolicy returns the cookie scope for an environment. Production
// cookies are secure and shared across the organization domain; everywhere
// else they are host-only.
func CookiePolicy(environment, domain string) CookieOptions {
	if environment != "production" {
		return CookieOptions{}
	}
	return CookieOptions{Domain: domain, Secure: true}
}

func (c CookieOptions) cookie(name, value string, expires time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if expires.IsZero() {
		cookie.MaxAge = -1
	} else {
		cookie.Expires = expires
	}
	return cookie
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
