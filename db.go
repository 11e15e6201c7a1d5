package quill

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/syssam/quill/dialect"
	qsql "github.com/syssam/quill/dialect/sql"
	"github.com/syssam/quill/dirty"
	"github.com/syssam/quill/sqltemplate"
)

// Session is the execution handle shared by DB and Tx. Builders and
// queries accept either.
type Session interface {
	// Dialect returns the session's SQL dialect.
	Dialect() sqltemplate.Dialect

	exec() dialect.ExecQuerier
	logger() *slog.Logger
	settings() *Settings
}

// Settings carries the cross-cutting behavior of a DB handle.
type Settings struct {
	// UpdateMode selects how much of a changed entity an UPDATE writes.
	UpdateMode dirty.UpdateMode
	// DirtyStrategy selects how snapshots are compared.
	DirtyStrategy dirty.Strategy
}

// DB is the root execution facade. It is safe for concurrent use.
type DB struct {
	driver   dialect.Driver
	sqld     sqltemplate.Dialect
	log      *slog.Logger
	behavior Settings
}

// Option configures a DB handle.
type Option func(*DB)

// WithLogger sets the structured logger used for statement logging.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// WithUpdateMode sets the dirty-check update mode.
func WithUpdateMode(m dirty.UpdateMode) Option {
	return func(db *DB) { db.behavior.UpdateMode = m }
}

// WithDirtyStrategy sets the snapshot comparison strategy.
func WithDirtyStrategy(s dirty.Strategy) Option {
	return func(db *DB) { db.behavior.DirtyStrategy = s }
}

// WithDebug wraps the driver so every statement is logged before
// execution. It applies only to drivers opened through this package.
func WithDebug() Option {
	return func(db *DB) {
		drv, ok := db.driver.(*qsql.Driver)
		if !ok {
			return
		}
		log := db.log
		db.driver = qsql.NewDebugDriver(drv, qsql.DebugWithLog(func(ctx context.Context, v ...any) {
			log.DebugContext(ctx, fmt.Sprint(v...))
		}))
	}
}

// WithStats wraps the driver so query counts and latencies are
// collected, with an optional slow-query hook. Read the counters
// through Stats. It applies only to drivers opened through this
// package.
func WithStats(opts ...qsql.StatsOption) Option {
	return func(db *DB) {
		drv, ok := db.driver.(*qsql.Driver)
		if !ok {
			return
		}
		db.driver = qsql.NewStatsDriver(drv, opts...)
	}
}

// Open opens a database handle for the given driver name and source.
func Open(driverName, source string, opts ...Option) (*DB, error) {
	drv, err := qsql.Open(driverName, source)
	if err != nil {
		return nil, persistErr("open", err)
	}
	return NewDB(drv, opts...), nil
}

// OpenDB wraps an existing *sql.DB.
func OpenDB(driverName string, db *sql.DB, opts ...Option) *DB {
	return NewDB(qsql.OpenDB(driverName, db), opts...)
}

// NewDB builds a DB on top of any dialect driver.
func NewDB(drv dialect.Driver, opts ...Option) *DB {
	db := &DB{
		driver: drv,
		sqld:   sqltemplate.ForDialect(drv.Dialect()),
		log:    slog.Default(),
		// Baselines are reloaded from the database, so they never share
		// references with the caller's entity; Value is the strategy
		// that makes sense by default.
		behavior: Settings{
			UpdateMode:    dirty.UpdateField,
			DirtyStrategy: dirty.Value,
		},
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Dialect returns the SQL dialect of the underlying driver.
func (db *DB) Dialect() sqltemplate.Dialect { return db.sqld }

// Driver returns the underlying dialect driver.
func (db *DB) Driver() dialect.Driver { return db.driver }

// Stats returns the query statistics of a handle opened WithStats, or
// nil for handles without statistics collection.
func (db *DB) Stats() *qsql.QueryStats {
	if sd, ok := db.driver.(*qsql.StatsDriver); ok {
		return sd.QueryStats()
	}
	return nil
}

// Close closes the underlying driver.
func (db *DB) Close() error { return db.driver.Close() }

func (db *DB) exec() dialect.ExecQuerier { return db.driver }
func (db *DB) logger() *slog.Logger      { return db.log }
func (db *DB) settings() *Settings       { return &db.behavior }

// Tx starts a transaction. The returned handle implements Session, so
// every builder and repository operation runs inside it unchanged.
func (db *DB) Tx(ctx context.Context) (*Tx, error) {
	tx, err := db.driver.Tx(ctx)
	if err != nil {
		return nil, persistErr("begin transaction", err)
	}
	return &Tx{db: db, tx: tx}, nil
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return persistErr("rollback", rerr)
		}
		return err
	}
	return persistErr("commit", tx.Commit())
}

// Tx is a transactional session.
type Tx struct {
	db *DB
	tx dialect.Tx
}

// Dialect returns the SQL dialect of the underlying driver.
func (t *Tx) Dialect() sqltemplate.Dialect { return t.db.sqld }

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback rolls the transaction back.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) exec() dialect.ExecQuerier { return t.tx }
func (t *Tx) logger() *slog.Logger      { return t.db.log }
func (t *Tx) settings() *Settings       { return &t.db.behavior }

// expand processes a template for the session's dialect and runs the
// finalization chain of interceptors and observers.
func expand(ctx context.Context, s Session, ts sqltemplate.TemplateString) (sqltemplate.Sql, error) {
	stmt, err := sqltemplate.NewProcessor(s.Dialect()).Process(ts)
	if err != nil {
		return sqltemplate.Sql{}, persistErr("expand", err)
	}
	stmt, err = sqltemplate.Finalize(ctx, stmt)
	if err != nil {
		return sqltemplate.Sql{}, persistErr("intercept", err)
	}
	s.logger().DebugContext(ctx, "quill: statement", "sql", stmt.Statement, "args", len(stmt.Params))
	return stmt, nil
}
