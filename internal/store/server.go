package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/invoice-declare/internal/session"
)

// Auth configures how the server signs users in and recognizes them.
type Auth struct {
	Tokens    *session.TokenManager
	Exchanger Exchanger
	Cookies   CookieOptions
	// PublicKey, when set, must accompany every bearer API request in the
	// apikey header.
	PublicKey string
}

// Server handles HTTP requests for the store
type Server struct {
	service *Service
	auth    Auth
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, auth Auth) *Server {
	return NewServerWithMux(service, auth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, auth Auth, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		auth:    auth,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

type identityKey struct{}

func withIdentity(ctx context.Context, id *session.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom returns the identity the gate attached to the request.
func identityFrom(ctx context.Context) *session.Identity {
	id, _ := ctx.Value(identityKey{}).(*session.Identity)
	return id
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// identify resolves the caller from a bearer token or the session cookie.
func (s *Server) identify(r *http.Request) *session.Identity {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return nil
	}

	claims, err := s.auth.Tokens.Verify(raw)
	if err != nil {
		slog.Debug("Rejected session token", "error", err)
		return nil
	}
	id, err := s.service.Identity(claims.Subject, claims.Email)
	if err != nil {
		slog.Error("Error loading identity", "user", claims.Subject, "error", err)
		return nil
	}
	return id
}

func isPublicPath(path string) bool {
	return strings.HasPrefix(path, "/storage/v1/object/public/") ||
		path == "/auth/v1/authorize"
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/rest/") ||
		strings.HasPrefix(path, "/storage/") ||
		strings.HasPrefix(path, "/auth/v1/")
}

// gate applies CORS, the apikey check and route gating to every request.
// Unauthenticated page requests go to /login, unauthenticated API requests
// get 401, and a signed-in user landing on the sign-in callback goes home.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		path := r.URL.Path
		if isPublicPath(path) {
			next.ServeHTTP(w, r)
			return
		}

		if s.auth.PublicKey != "" && isAPIPath(path) && bearerToken(r) != "" && r.Header.Get("apikey") != s.auth.PublicKey {
			writeJSONError(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		id := s.identify(r)
		switch {
		case id != nil && path == "/api/auth/callback":
			http.Redirect(w, r, "/", http.StatusFound)
			return
		case id != nil:
			r = r.WithContext(withIdentity(r.Context(), id))
		case isAPIPath(path):
			writeJSONError(w, "not authenticated", http.StatusUnauthorized)
			return
		case strings.HasPrefix(path, "/login") || strings.HasPrefix(path, "/api/auth"):
		default:
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, apikey")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Table
	s.mux.HandleFunc("GET /rest/v1/invoice/{id}", s.handleGetInvoice)
	s.mux.HandleFunc("PATCH /rest/v1/invoice/{id}", s.handleUpdateStatus)
	s.mux.HandleFunc("DELETE /rest/v1/invoice/{id}", s.handleDeleteInvoice)
	s.mux.HandleFunc("GET /rest/v1/invoice", s.handleListInvoices)
	s.mux.HandleFunc("POST /rest/v1/invoice", s.handleCreateInvoice)

	// Bucket
	s.mux.HandleFunc("GET /storage/v1/object/public/invoice/{key...}", s.handleGetObject)
	s.mux.HandleFunc("POST /storage/v1/object/invoice/{key...}", s.handlePutObject)
	s.mux.HandleFunc("DELETE /storage/v1/object/invoice/{key...}", s.handleRemoveObject)

	// Auth
	s.mux.HandleFunc("GET /auth/v1/user", s.handleUser)
	s.mux.HandleFunc("GET /auth/v1/token", s.handleToken)
	s.mux.HandleFunc("POST /auth/v1/token/refresh", s.handleToken)
	s.mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	s.mux.HandleFunc("GET /auth/v1/authorize", s.handleAuthorize)
	s.mux.HandleFunc("GET /api/auth/callback", s.handleCallback)

	// Pages
	s.mux.HandleFunc("GET /login", s.handleLogin)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.gate(s.mux).ServeHTTP(w, r)
}
