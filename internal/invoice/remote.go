package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Remote is a Table and Bucket backed by the store's HTTP API.
type Remote struct {
	baseURL   string
	publicKey string
	client    *http.Client
}

// NewRemote creates a Remote for the store at baseURL. publicKey is sent
// as the apikey header when set.
func NewRemote(baseURL, publicKey string) *Remote {
	return &Remote{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: publicKey,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Remote) Insert(ctx context.Context, accessToken string, rec *Record) (*Record, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	var saved Record
	if err := r.do(ctx, http.MethodPost, "/rest/v1/invoice", accessToken, "application/json", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *Remote) Select(ctx context.Context, accessToken string) ([]*Record, error) {
	var records []*Record
	if err := r.do(ctx, http.MethodGet, "/rest/v1/invoice", accessToken, "", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Remote) UpdateStatus(ctx context.Context, accessToken, id string, status Status) error {
	body, err := json.Marshal(map[string]Status{"status": status})
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return r.do(ctx, http.MethodPatch, "/rest/v1/invoice/"+url.PathEscape(id), accessToken, "application/json", body, nil)
}

func (r *Remote) Delete(ctx context.Context, accessToken, id string) error {
	return r.do(ctx, http.MethodDelete, "/rest/v1/invoice/"+url.PathEscape(id), accessToken, "", nil, nil)
}

func (r *Remote) Upload(ctx context.Context, accessToken, path string, data []byte) error {
	return r.do(ctx, http.MethodPost, objectPath(path), accessToken, "image/jpeg", data, nil)
}

func (r *Remote) Remove(ctx context.Context, accessToken, path string) error {
	return r.do(ctx, http.MethodDelete, objectPath(path), accessToken, "", nil, nil)
}

// Download fetches a page through its public URL.
func (r *Remote) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PublicURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (r *Remote) PublicURL(path string) string {
	return r.baseURL + "/storage/v1/object/public/" + BucketName + "/" + escapePath(path)
}

func objectPath(path string) string {
	return "/storage/v1/object/" + BucketName + "/" + escapePath(path)
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (r *Remote) do(ctx context.Context, method, path, accessToken, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if r.publicKey != "" {
		req.Header.Set("apikey", r.publicKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// statusError maps a failed store response onto the package's errors.
func statusError(resp *http.Response) error {
	msg := errorMessage(resp.Body)
	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = ErrNotAuthenticated
	case http.StatusForbidden:
		kind = ErrForbidden
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusConflict:
		kind = ErrConflict
	default:
		return fmt.Errorf("store error (status %d): %s", resp.StatusCode, msg)
	}
	if msg == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

