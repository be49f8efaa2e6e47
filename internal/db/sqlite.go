// Package db provides the embedded SQLite database that backs local persistence.
//
// The database holds a single key-value table and implements persist.Adapter,
// so the local collection store can survive restarts on machines where a
// database file is the natural storage.
//
// Architecture:
//   - Database file: <data_dir>/local.db
//   - WAL mode: readers do not block the flusher
//   - Schema: kv(key, value, updated_at)
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/shopkeep/shopsync/internal/persist"
)

// Ensure DB implements the persistence interface.
var _ persist.Adapter = (*DB)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps the SQLite connection used for local persistence.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL for concurrent reads and the schema is
// created if missing. The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open(filepath.Join(dataDir, "local.db"))
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	connStr := "file::memory:"
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == MemoryPath {
		// Every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if path != MemoryPath {
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.path != MemoryPath {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the key-value table if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// GetItem implements persist.Adapter.GetItem.
func (db *DB) GetItem(ctx context.Context, key string) (string, bool, error) {
	if db.conn == nil {
		return "", false, &persist.Error{Op: "get", Key: key, Err: persist.ErrClosed}
	}

	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &persist.Error{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

// SetItem implements persist.Adapter.SetItem.
func (db *DB) SetItem(ctx context.Context, key, value string) error {
	if db.conn == nil {
		return &persist.Error{Op: "set", Key: key, Err: persist.ErrClosed}
	}

	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &persist.Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

// RemoveItem implements persist.Adapter.RemoveItem.
// Returns nil if the key doesn't exist (idempotent).
func (db *DB) RemoveItem(ctx context.Context, key string) error {
	if db.conn == nil {
		return &persist.Error{Op: "remove", Key: key, Err: persist.ErrClosed}
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return &persist.Error{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// Keys returns all keys starting with prefix, sorted.
func (db *DB) Keys(ctx context.Context, prefix string) ([]string, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// GetItemCount returns the total number of stored keys.
func (db *DB) GetItemCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}
