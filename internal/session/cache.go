package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptedSession is returned when the locally cached session cannot be
// decoded.
var ErrCorruptedSession = errors.New("corrupted session")

// Cache persists the current token between process runs.
type Cache interface {
	// Load returns the cached token, or nil when nothing is cached.
	Load() (*Token, error)
	Save(tok Token) error
	Clear() error
}

// FileCache stores the token as JSON in a single file.
type FileCache struct {
	path string
}

// NewFileCache creates a FileCache at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// DefaultCachePath is the session file under the user's config directory.
func DefaultCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "invoice-declare", "session.json")
}

// Load reads the cached token.
func (c *FileCache) Load() (*Token, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedSession, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrCorruptedSession)
	}
	if err := checkStructure(tok.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedSession, err)
	}
	return &tok, nil
}

// Save writes tok, readable only by the current user.
func (c *FileCache) Save(tok Token) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// Clear removes the cached token. Clearing an empty cache is not an error.
func (c *FileCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
