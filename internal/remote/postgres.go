package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Ensure Postgres implements the Gateway interface.
var _ Gateway = (*Postgres)(nil)

// PostgresConfig configures a direct Postgres gateway.
type PostgresConfig struct {
	// DSN is a postgres:// URL or key=value connection string.
	DSN string

	// MaxConns bounds the pool size (default: 4).
	MaxConns int32

	// ConnectTimeout bounds connection setup (default: 10s).
	ConnectTimeout time.Duration

	// Now overrides the write clock (optional).
	Now func() time.Time

	// Logger for statement logging (optional).
	Logger *log.Logger
}

// Postgres is a Gateway that talks to the backend database directly.
type Postgres struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *log.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPostgres connects to Postgres and verifies the connection.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolConfig, err := parsePostgresConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Postgres{
		pool:    pool,
		now:     nowFunc(cfg.Now),
		logger:  logger,
		ensured: make(map[string]bool),
	}, nil
}

func parsePostgresConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	return poolConfig, nil
}

// InitSchema creates the tables for the given collections.
func (p *Postgres) InitSchema(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if err := p.ensureTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) ensureTable(ctx context.Context, table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ensured[table] {
		return nil
	}
	if err := schema.ValidateName(table); err != nil {
		return err
	}

	ident := pgx.Identifier{table}.Sanitize()
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		data JSONB NOT NULL,
		created_by TEXT,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id, business_id)
	)`, ident)

	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	p.ensured[table] = true
	return nil
}

// FetchCollection implements Gateway.FetchCollection.
func (p *Postgres) FetchCollection(ctx context.Context, table, businessID string) ([]schema.RemoteRow, error) {
	if err := checkArgs("fetch", table, businessID); err != nil {
		return nil, err
	}
	if err := p.ensureTable(ctx, table); err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: err}
	}

	query := fmt.Sprintf(`
	SELECT id, business_id, data::text, created_by, updated_at
	FROM %s
	WHERE business_id = $1
	ORDER BY id
	`, pgx.Identifier{table}.Sanitize())

	rows, err := p.pool.Query(ctx, query, businessID)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: err}
	}
	defer rows.Close()

	var out []schema.RemoteRow
	for rows.Next() {
		var (
			row       schema.RemoteRow
			data      string
			createdBy *string
			updatedAt time.Time
		)
		if err := rows.Scan(&row.ID, &row.BusinessID, &data, &createdBy, &updatedAt); err != nil {
			return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		row.Data = []byte(data)
		if createdBy != nil {
			row.CreatedBy = *createdBy
		}
		row.UpdatedAt = schema.Stamp(updatedAt)
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("error iterating rows: %w", err)}
	}

	return filterTenant(out, businessID), nil
}

// UpsertCollection implements Gateway.UpsertCollection.
// Rows are queued in one batch inside a transaction.
func (p *Postgres) UpsertCollection(ctx context.Context, table, businessID string, records []schema.Record) (time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, nil
	}
	if err := checkArgs("upsert", table, businessID); err != nil {
		return time.Time{}, err
	}
	if err := p.ensureTable(ctx, table); err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: err}
	}

	stamp := schema.Stamp(p.now())
	remoteRows, err := buildRows("upsert", table, businessID, records, stamp)
	if err != nil {
		return time.Time{}, err
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, business_id, data, created_by, updated_at)
	VALUES ($1, $2, $3::jsonb, $4, $5)
	ON CONFLICT (id, business_id) DO UPDATE SET
		data = EXCLUDED.data,
		created_by = EXCLUDED.created_by,
		updated_at = EXCLUDED.updated_at
	`, pgx.Identifier{table}.Sanitize())

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range remoteRows {
			var createdBy *string
			if row.CreatedBy != "" {
				createdBy = &row.CreatedBy
			}
			batch.Queue(query, row.ID, row.BusinessID, string(row.Data), createdBy, row.UpdatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: err}
	}

	p.logger.Printf("Upserted %d rows into %s", len(remoteRows), table)
	return stamp, nil
}

// DeleteByIDs implements Gateway.DeleteByIDs.
func (p *Postgres) DeleteByIDs(ctx context.Context, table, businessID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := checkArgs("delete", table, businessID); err != nil {
		return err
	}
	if err := p.ensureTable(ctx, table); err != nil {
		return &TransportError{Op: "delete", Table: table, Err: err}
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE business_id = $1 AND id = ANY($2)`, pgx.Identifier{table}.Sanitize())
	if _, err := p.pool.Exec(ctx, query, businessID, ids); err != nil {
		return &TransportError{Op: "delete", Table: table, Err: err}
	}

	p.logger.Printf("Deleted %d rows from %s", len(ids), table)
	return nil
}

// Close implements Gateway.Close.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
