// Package dialect provides database dialect abstraction for Quill.
//
// It defines the interfaces and constants used for database-specific
// operations, allowing Quill to support multiple database backends
// including PostgreSQL, MySQL, and SQLite.
package dialect

import "context"

// Dialect names for the supported database backends.
const (
	// Postgres is the PostgreSQL dialect.
	Postgres = "postgres"
	// MySQL is the MySQL/MariaDB dialect.
	MySQL = "mysql"
	// SQLite is the SQLite dialect.
	SQLite = "sqlite"
)

// ExecQuerier wraps the two database operations every backend must provide.
//
// Exec executes a statement that does not return rows. The args parameter
// must be a []any holding the positional bind parameters. If v is non-nil
// it must be a *sql.Result pointer that receives the execution result.
//
// Query executes a statement that returns rows. The args parameter must be
// a []any holding the positional bind parameters, and v must be a *Rows
// value (see the sql sub-package) that receives the row cursor.
type ExecQuerier interface {
	Exec(ctx context.Context, query string, args, v any) error
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface implemented by database drivers.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is the interface implemented by driver transactions.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// NopTx returns a Tx that executes on drv and performs no commit or
// rollback of its own. Useful for drivers that manage transactions
// externally or for tests.
func NopTx(drv Driver) Tx {
	return nopTx{drv}
}

type nopTx struct {
	Driver
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }
