package persist

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Ensure Badger implements the interface.
var _ Adapter = (*Badger)(nil)

// Badger is an Adapter backed by a BadgerDB directory.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB store in dir.
// An empty dir opens an in-memory instance.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to create badger directory: %w", err)}
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to open badger: %w", err)}
	}
	return &Badger{db: db}, nil
}

// GetItem implements Adapter.GetItem.
func (b *Badger) GetItem(_ context.Context, key string) (string, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &Error{Op: "get", Key: key, Err: err}
	}
	return string(value), true, nil
}

// SetItem implements Adapter.SetItem.
func (b *Badger) SetItem(_ context.Context, key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

// RemoveItem implements Adapter.RemoveItem.
func (b *Badger) RemoveItem(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return &Error{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Close implements Adapter.Close.
func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
