package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the provider's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Loading
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventKind names an identity change.
type EventKind string

const (
	InitialSession EventKind = "INITIAL_SESSION"
	SignedIn       EventKind = "SIGNED_IN"
	SignedOut      EventKind = "SIGNED_OUT"
	TokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is published to subscribers on every identity change. Session is nil
// when the provider is anonymous.
type Event struct {
	Kind    EventKind
	Session *Session
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 8

// DefaultScopes are requested when SignInWithProvider is given none.
const DefaultScopes = "openid"

// tokenPath is where the store hands a browser session over as a bearer token.
const tokenPath = "/auth/v1/token"

var (
	// ErrNotReady is returned by state changes attempted before Init completes.
	ErrNotReady = errors.New("session provider is not initialized")

	// ErrNotSignedIn is returned by Refresh when there is no session.
	ErrNotSignedIn = errors.New("not signed in")
)

// Authenticator is the remote side of the identity exchange.
type Authenticator interface {
	// User resolves a token to its identity, including role grants.
	User(ctx context.Context, accessToken string) (*Identity, error)
	// Refresh exchanges a valid token for a fresh one.
	Refresh(ctx context.Context, accessToken string) (*Token, error)
	// AuthorizeURL is where a user starts signing in with provider.
	AuthorizeURL(provider, scopes, next string) string
}

// Provider holds the current identity. It moves from Uninitialized through
// Loading exactly once, then between Authenticated and Anonymous as sign-in,
// sign-out and refresh notifications arrive.
type Provider struct {
	auth  Authenticator
	cache Cache
	now   func() time.Time

	mu      sync.Mutex
	state   State
	current *Session
	subs    map[int]chan Event
	nextSub int
}

// NewProvider creates an uninitialized provider.
func NewProvider(auth Authenticator, cache Cache) *Provider {
	return &Provider{
		auth:  auth,
		cache: cache,
		now:   time.Now,
		subs:  make(map[int]chan Event),
	}
}

// Init loads the cached session. Only the first call does any work; later
// calls return the current state. Failures never escape: a corrupt cache,
// an expired token or an unreachable store all leave the provider Anonymous.
func (p *Provider) Init(ctx context.Context) State {
	p.mu.Lock()
	if p.state != Uninitialized {
		state := p.state
		p.mu.Unlock()
		return state
	}
	p.state = Loading
	p.mu.Unlock()

	sess := p.loadSession(ctx)

	p.mu.Lock()
	p.setLocked(sess)
	state := p.state
	p.publishLocked(Event{Kind: InitialSession, Session: copySession(sess)})
	p.mu.Unlock()
	return state
}

func (p *Provider) loadSession(ctx context.Context) *Session {
	tok, err := p.cache.Load()
	if errors.Is(err, ErrCorruptedSession) {
		slog.Warn("Clearing corrupted session", "error", err)
		if err := p.cache.Clear(); err != nil {
			slog.Error("Failed to clear session", "error", err)
		}
		return nil
	}
	if err != nil {
		slog.Error("Failed to load session", "error", err)
		return nil
	}
	if tok == nil {
		return nil
	}
	if tok.Expired(p.now()) {
		slog.Info("Cached session has expired")
		return nil
	}

	id, err := p.auth.User(ctx, tok.AccessToken)
	if err != nil {
		slog.Warn("Failed to resolve cached session", "error", err)
		return nil
	}
	return &Session{Token: *tok, Identity: *id}
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the current session.
func (p *Provider) Session() (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, false
	}
	return copySession(p.current), true
}

// Identity returns the current identity, or nil when anonymous.
func (p *Provider) Identity() *Identity {
	sess, ok := p.Session()
	if !ok {
		return nil
	}
	return &sess.Identity
}

// Subscribe registers for identity change events. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (p *Provider) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Event, subscriberBuffer)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}

// SignInWithProvider returns the URL that starts a sign-in with provider. It
// does not change local state; the resulting session arrives through SignIn.
func (p *Provider) SignInWithProvider(provider, scopes string) string {
	if scopes == "" {
		scopes = DefaultScopes
	}
	return p.auth.AuthorizeURL(provider, scopes, tokenPath)
}

// SignIn adopts tok as the current session.
func (p *Provider) SignIn(ctx context.Context, tok Token) error {
	if !p.ready() {
		return ErrNotReady
	}
	if err := checkStructure(tok.AccessToken); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedSession, err)
	}

	id, err := p.auth.User(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if err := p.cache.Save(tok); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	p.transition(SignedIn, &Session{Token: tok, Identity: *id})
	slog.Info("User signed in", "user", id.ID)
	return nil
}

// Refresh rotates the current token.
func (p *Provider) Refresh(ctx context.Context) error {
	if !p.ready() {
		return ErrNotReady
	}
	sess, ok := p.Session()
	if !ok {
		return ErrNotSignedIn
	}

	tok, err := p.auth.Refresh(ctx, sess.Token.AccessToken)
	if err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}
	id, err := p.auth.User(ctx, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	if err := p.cache.Save(*tok); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	p.transition(TokenRefreshed, &Session{Token: *tok, Identity: *id})
	return nil
}

// SignOut forgets the current session.
func (p *Provider) SignOut() error {
	if !p.ready() {
		return ErrNotReady
	}
	if err := p.cache.Clear(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	p.transition(SignedOut, nil)
	slog.Info("User signed out")
	return nil
}

func (p *Provider) ready() bool {
	s := p.State()
	return s == Authenticated || s == Anonymous
}

func (p *Provider) transition(kind EventKind, sess *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(sess)
	p.publishLocked(Event{Kind: kind, Session: copySession(sess)})
}

func (p *Provider) setLocked(sess *Session) {
	p.current = sess
	if sess == nil {
		p.state = Anonymous
	} else {
		p.state = Authenticated
	}
}

func (p *Provider) publishLocked(ev Event) {
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping session event for slow subscriber", "subscriber", id, "event", ev.Kind)
		}
	}
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
