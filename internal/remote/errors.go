package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for gateway argument checks.
// These are always wrapped in a *TransportError.
var (
	// ErrTenantRequired is returned when an operation has no business id.
	ErrTenantRequired = errors.New("business id is required")

	// ErrInvalidTable is returned when a table name is not a safe identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// TransportError describes a failed gateway call.
type TransportError struct {
	Op         string // fetch, upsert, delete
	Table      string
	StatusCode int // HTTP status when the backend answered, 0 otherwise
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s %s: status %d: %v", e.Op, e.Table, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err came from a gateway call.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
