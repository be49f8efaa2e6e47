package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Ensure SQL implements the Gateway interface.
var _ Gateway = (*SQL)(nil)

// timeFormat keeps stored timestamps lexically ordered.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// SQLOptions configures a SQL gateway.
type SQLOptions struct {
	// Now overrides the write clock (optional).
	Now func() time.Time

	// Logger for statement logging (optional).
	Logger *log.Logger
}

// SQL is a Gateway over a database/sql connection speaking the SQLite dialect.
// Each collection is a table keyed on (id, business_id), created on first use.
type SQL struct {
	db     *sql.DB
	now    func() time.Time
	logger *log.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// OpenSQLite opens a SQLite file as the remote store. Useful for a shared
// network volume or for local testing. ":memory:" opens a private database.
func OpenSQLite(path string, opts SQLOptions) (*SQL, error) {
	connStr := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	} else {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return NewSQL(conn, opts), nil
}

// NewSQL wraps an existing connection. The gateway takes ownership of conn.
func NewSQL(conn *sql.DB, opts SQLOptions) *SQL {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &SQL{
		db:      conn,
		now:     nowFunc(opts.Now),
		logger:  logger,
		ensured: make(map[string]bool),
	}
}

// InitSchema creates the tables for the given collections.
// This is idempotent - safe to call multiple times.
func (s *SQL) InitSchema(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if err := s.ensureTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[table] {
		return nil
	}
	if err := schema.ValidateName(table); err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_by TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, business_id)
	)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_business ON %[1]s(business_id)`, table),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	s.ensured[table] = true
	return nil
}

// FetchCollection implements Gateway.FetchCollection.
func (s *SQL) FetchCollection(ctx context.Context, table, businessID string) ([]schema.RemoteRow, error) {
	if err := checkArgs("fetch", table, businessID); err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: err}
	}

	query := fmt.Sprintf(`
	SELECT id, business_id, data, created_by, updated_at
	FROM %s
	WHERE business_id = ?
	ORDER BY id
	`, table)

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: err}
	}
	defer rows.Close()

	var out []schema.RemoteRow
	for rows.Next() {
		var (
			row       schema.RemoteRow
			data      string
			createdBy sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&row.ID, &row.BusinessID, &data, &createdBy, &updatedAt); err != nil {
			return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("failed to scan row: %w", err)}
		}

		ts, err := parseTimestamp(updatedAt)
		if err != nil {
			return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("row %s: %w", row.ID, err)}
		}

		row.Data = []byte(data)
		row.CreatedBy = createdBy.String
		row.UpdatedAt = ts
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("error iterating rows: %w", err)}
	}

	return filterTenant(out, businessID), nil
}

// UpsertCollection implements Gateway.UpsertCollection.
// The whole batch runs in one transaction.
func (s *SQL) UpsertCollection(ctx context.Context, table, businessID string, records []schema.Record) (time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, nil
	}
	if err := checkArgs("upsert", table, businessID); err != nil {
		return time.Time{}, err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: err}
	}

	stamp := schema.Stamp(s.now())
	remoteRows, err := buildRows("upsert", table, businessID, records, stamp)
	if err != nil {
		return time.Time{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, business_id, data, created_by, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id, business_id) DO UPDATE SET
		data = excluded.data,
		created_by = excluded.created_by,
		updated_at = excluded.updated_at
	`, table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: fmt.Errorf("failed to prepare upsert: %w", err)}
	}
	defer stmt.Close()

	for _, row := range remoteRows {
		createdBy := sql.NullString{String: row.CreatedBy, Valid: row.CreatedBy != ""}
		if _, err := stmt.ExecContext(ctx, row.ID, row.BusinessID, string(row.Data), createdBy, row.UpdatedAt.Format(timeFormat)); err != nil {
			return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: fmt.Errorf("failed to upsert %s: %w", row.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: fmt.Errorf("failed to commit: %w", err)}
	}

	s.logger.Printf("Upserted %d rows into %s", len(remoteRows), table)
	return stamp, nil
}

// DeleteByIDs implements Gateway.DeleteByIDs.
func (s *SQL) DeleteByIDs(ctx context.Context, table, businessID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := checkArgs("delete", table, businessID); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return &TransportError{Op: "delete", Table: table, Err: err}
	}

	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, businessID)
		for _, id := range chunk {
			args = append(args, id)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf(`DELETE FROM %s WHERE business_id = ? AND id IN (%s)`, table, placeholders)

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return &TransportError{Op: "delete", Table: table, Err: err}
		}
	}

	s.logger.Printf("Deleted %d rows from %s", len(ids), table)
	return nil
}

// Close implements Gateway.Close.
func (s *SQL) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RawDB returns the underlying connection.
func (s *SQL) RawDB() *sql.DB {
	return s.db
}
