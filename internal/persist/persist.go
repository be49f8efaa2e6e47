// Package persist provides the durable key-value storage used by the local
// collection store to survive restarts.
//
// All backends implement Adapter. Keys live under the KeyPrefix namespace and
// values are JSON strings. Backends return *Error on failure; deciding whether
// a failure matters is left to the caller (the store logs and carries on).
package persist

import (
	"context"
	"errors"
	"fmt"
)

// KeyPrefix namespaces every key written by shopsync.
const KeyPrefix = "shopsync:"

// ErrClosed is returned when an adapter is used after Close.
var ErrClosed = errors.New("persistence adapter closed")

// Adapter is a uniform interface over platform key-value storage.
type Adapter interface {
	// GetItem returns the value for key. ok is false when the key is absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Close releases the underlying storage.
	Close() error
}

// Error describes a failed storage operation.
type Error struct {
	Op  string // get, set, remove, open
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err came from a persistence backend.
func IsPersistence(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Key joins parts under the shopsync namespace: Key("biz1", "collection", "products")
// returns "shopsync:biz1:collection:products".
func Key(parts ...string) string {
	key := KeyPrefix
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
