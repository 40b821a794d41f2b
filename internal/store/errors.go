package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTableExists is returned by fail mode when the target table exists.
var ErrTableExists = errors.New("table already exists")

// ConnectivityError wraps failures to reach or authenticate with the store.
// They are fatal to the current operation.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "store unreachable: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// SchemaError wraps DDL failures and schema mismatches. They are fatal.
type SchemaError struct {
	Table TableIdentity
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %s: %v", e.Table, e.Err)
}
func (e *SchemaError) Unwrap() error { return e.Err }

// classify wraps connection-level failures in ConnectivityError and leaves
// everything else unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsConnectivity(err) {
		var ce *ConnectivityError
		if errors.As(err, &ce) {
			return err
		}
		return &ConnectivityError{Err: err}
	}
	return err
}

// IsConnectivity reports whether err means the store could not be reached
// or refused the credentials.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}

	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. Class 28: invalid authorization.
		// Class 57P: operator intervention such as admin shutdown.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "28") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}

	// context.DeadlineExceeded satisfies net.Error.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// SQLState returns the SQLSTATE code carried by err, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
