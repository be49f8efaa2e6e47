package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name entries are stored under.
const KeyringService = "shopsync"

// ErrNoCredential is returned when no secret is stored.
var ErrNoCredential = errors.New("no credential stored")

// Credentials keeps remote API keys in the OS keyring, one entry per
// remote URL.
type Credentials struct {
	service string
}

// NewCredentials returns a keyring-backed credential store.
func NewCredentials() *Credentials {
	return &Credentials{service: KeyringService}
}

// APIKey returns the key stored for remoteURL.
func (c *Credentials) APIKey(remoteURL string) (string, error) {
	secret, err := keyring.Get(c.service, remoteURL)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read keyring: %w", err)
	}
	return secret, nil
}

// SetAPIKey stores key for remoteURL.
func (c *Credentials) SetAPIKey(remoteURL, key string) error {
	if remoteURL == "" {
		return fmt.Errorf("remote URL is required")
	}
	if err := keyring.Set(c.service, remoteURL, key); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the key for remoteURL. A missing entry is not an error.
func (c *Credentials) DeleteAPIKey(remoteURL string) error {
	err := keyring.Delete(c.service, remoteURL)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}
