// Package dialect provides the database driver abstraction used by strata.
//
// The Driver interface is the only thing the write and read paths know about
// the underlying store. dialect/sql implements it on top of database/sql.
package dialect

import "context"

// Supported dialect names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ExecQuerier wraps the Exec and Query operations.
type ExecQuerier interface {
	// Exec executes a statement that returns no rows. The args argument
	// carries the bind parameters as a []any, and v optionally receives the
	// statement result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows, scanned through v.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimal interface a storage backend exposes to strata.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection pool.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is the transaction interface returned by Driver.Tx.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}
