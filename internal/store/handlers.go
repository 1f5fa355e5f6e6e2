package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-declare/internal/invoice"
)

// maxObjectSize bounds a single page upload.
const maxObjectSize = 50 << 20

// writeServiceError maps a service error to a status code.
func writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrPolicy):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrObjectExists):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalid):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error "+action, "error", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleListInvoices returns every invoice, newest first
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListInvoices()
	if err != nil {
		writeServiceError(w, "listing invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "getting invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var rec invoice.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.service.CreateInvoice(identityFrom(r.Context()), &rec)
	if err != nil {
		writeServiceError(w, "creating invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status invoice.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.service.UpdateStatus(identityFrom(r.Context()), r.PathValue("id"), req.Status); err != nil {
		writeServiceError(w, "updating invoice status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(identityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, "deleting invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePutObject stores an uploaded page as-is
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxObjectSize))
	if err != nil {
		writeJSONError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.service.PutObject(identityFrom(r.Context()), key, data); err != nil {
		writeServiceError(w, "storing object", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": key})
}

func (s *Server) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveObject(identityFrom(r.Context()), r.PathValue("key")); err != nil {
		writeServiceError(w, "removing object", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetObject serves a stored page to anyone holding its URL
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetObject(r.PathValue("key"))
	if err != nil {
		writeServiceError(w, "reading object", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFrom(r.Context()))
}

// handleToken issues a fresh bearer token for the caller. Browsers use it
// to hand their cookie session to the command line.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.auth.Tokens.Issue(*identityFrom(r.Context()))
	if err != nil {
		writeServiceError(w, "issuing token", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.auth.Cookies.cookie(sessionCookieName, "", time.Time{}))
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorize sends the browser to the identity provider
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.auth.Exchanger == nil {
		writeJSONError(w, "sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	state := url.Values{}
	state.Set("state", uuid.NewString())
	state.Set("next", safeNext(q.Get("next")))
	http.SetCookie(w, s.auth.Cookies.cookie(stateCookieName, state.Encode(), time.Now().Add(stateCookieTTL)))

	slog.Info("Starting sign-in", "provider", q.Get("provider"))
	http.Redirect(w, r, s.auth.Exchanger.AuthCodeURL(state.Get("state"), strings.Fields(q.Get("scopes"))), http.StatusFound)
}

// handleCallback finishes sign-in: it exchanges the code, records the
// profile and sets the session cookie.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var state url.Values
	if c, err := r.Cookie(stateCookieName); err == nil {
		state, _ = url.ParseQuery(c.Value)
	}
	next := q.Get("next")
	if next == "" {
		next = state.Get("next")
	}
	next = safeNext(next)

	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	http.SetCookie(w, s.auth.Cookies.cookie(stateCookieName, "", time.Time{}))

	if s.auth.Exchanger == nil {
		http.Redirect(w, r, "/?error=unknown", http.StatusFound)
		return
	}
	if state.Get("state") == "" || state.Get("state") != q.Get("state") {
		slog.Warn("Sign-in state mismatch")
		http.Redirect(w, r, "/?error=auth_error", http.StatusFound)
		return
	}

	id, err := s.auth.Exchanger.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("Error exchanging code", "error", err)
		http.Redirect(w, r, "/?error=auth_error", http.StatusFound)
		return
	}
	id, err = s.service.SyncProfile(id)
	if err != nil {
		slog.Error("Error saving profile", "error", err)
		http.Redirect(w, r, "/?error=unknown", http.StatusFound)
		return
	}
	tok, err := s.auth.Tokens.Issue(*id)
	if err != nil {
		slog.Error("Error issuing session", "error", err)
		http.Redirect(w, r, "/?error=unknown", http.StatusFound)
		return
	}

	http.SetCookie(w, s.auth.Cookies.cookie(sessionCookieName, tok.AccessToken, tok.ExpiresAt))
	slog.Info("Signed in", "user", id.ID)
	http.Redirect(w, r, next, http.StatusFound)
}

// handleLogin serves the sign-in page
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(loginHTML)
}

// handleIndex serves the invoice list page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
