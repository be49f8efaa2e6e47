// Package auth stores who is signed in on this device and for which business.
//
// Sign-in flows themselves live outside shopsync; this package only keeps
// the resulting session in a JSON file so the CLI and the daemon agree on
// the active tenant, and optionally keeps the remote API key in the OS
// keyring.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session describes the signed-in user and tenant.
type Session struct {
	BusinessID string    `json:"business_id"`
	UserID     string    `json:"user_id"`
	SignedIn   bool      `json:"signed_in"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tenant returns the business id when signed in, or "".
func (s Session) Tenant() string {
	if !s.SignedIn {
		return ""
	}
	return s.BusinessID
}

// Validate checks a signed-in session has a tenant and a user.
func (s Session) Validate() error {
	if !s.SignedIn {
		return nil
	}
	if s.BusinessID == "" {
		return fmt.Errorf("business id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// FileProvider persists the session in a JSON file.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

// NewFileProvider creates a provider for the session file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the session file location.
func (p *FileProvider) Path() string {
	return p.path
}

// Load reads the session. A missing file is a signed-out session.
func (p *FileProvider) Load() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session %s: %w", p.path, err)
	}
	return s, nil
}

// Save writes the session atomically.
func (p *FileProvider) Save(s Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}

// Clear signs out by removing the session file.
func (p *FileProvider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
