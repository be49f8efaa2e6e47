package remote

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/go-libsql"
)

// OpenLibSQL connects to a libSQL server or Turso database.
//
// dbURL is a libsql://, https:// or file: URL. authToken is appended as the
// authToken query parameter when set.
func OpenLibSQL(dbURL, authToken string, opts SQLOptions) (*SQL, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "libsql", "https", "http", "wss", "ws", "file":
	default:
		return nil, fmt.Errorf("unsupported libsql URL scheme %q", u.Scheme)
	}

	if authToken != "" {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}

	conn, err := sql.Open("libsql", u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping libsql database: %w", err)
	}

	return NewSQL(conn, opts), nil
}
