package quill

import (
	"errors"
	"fmt"

	qsql "github.com/syssam/quill/dialect/sql"
	"github.com/syssam/quill/sqltemplate"
)

// Standard sentinel errors for common operations.
var (
	// ErrNoResult is returned when a query that expects exactly one
	// result returns none.
	ErrNoResult = errors.New("quill: no result")

	// ErrNonUniqueResult is returned when a query that expects exactly
	// one result returns more than one.
	ErrNonUniqueResult = errors.New("quill: non-unique result")

	// ErrOptimisticLock is returned when an update or delete misses its
	// row because the stored version no longer matches.
	ErrOptimisticLock = errors.New("quill: optimistic lock failed")

	// ErrTxStarted is returned when attempting to start a new
	// transaction within an existing transaction.
	ErrTxStarted = errors.New("quill: cannot start a transaction within a transaction")
)

// PersistenceError wraps any failure raised while building, expanding
// or executing a statement. The underlying template or driver error is
// available through Unwrap.
type PersistenceError struct {
	op    string
	cause error
}

// Error returns the error string.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("quill: %s: %v", e.op, e.cause)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error { return e.cause }

// Op returns the failing operation.
func (e *PersistenceError) Op() string { return e.op }

// persistErr wraps a cause once; already-wrapped errors pass through.
func persistErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(cause, &pe) {
		return cause
	}
	return &PersistenceError{op: op, cause: cause}
}

// IsPersistenceError reports whether the error is a PersistenceError.
func IsPersistenceError(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}

// NoResultError is returned when a single-row query matches nothing.
type NoResultError struct {
	label string
}

// Error returns the error string.
func (e *NoResultError) Error() string {
	return fmt.Sprintf("quill: %s: no result", e.label)
}

// Is reports whether the target matches ErrNoResult.
func (e *NoResultError) Is(err error) bool { return err == ErrNoResult }

// Label returns the entity label of the query.
func (e *NoResultError) Label() string { return e.label }

// IsNoResult reports whether the error is a NoResultError.
func IsNoResult(err error) bool {
	if err == nil {
		return false
	}
	var e *NoResultError
	return errors.As(err, &e) || errors.Is(err, ErrNoResult)
}

// NonUniqueResultError is returned when a single-row query matches more
// than one row.
type NonUniqueResultError struct {
	label string
	count int // rows seen, -1 if unknown
}

// Error returns the error string.
func (e *NonUniqueResultError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("quill: %s: %d results where one was expected", e.label, e.count)
	}
	return fmt.Sprintf("quill: %s: non-unique result", e.label)
}

// Is reports whether the target matches ErrNonUniqueResult.
func (e *NonUniqueResultError) Is(err error) bool { return err == ErrNonUniqueResult }

// Label returns the entity label of the query.
func (e *NonUniqueResultError) Label() string { return e.label }

// Count returns the number of rows seen, -1 if unknown.
func (e *NonUniqueResultError) Count() int { return e.count }

// IsNonUniqueResult reports whether the error is a NonUniqueResultError.
func IsNonUniqueResult(err error) bool {
	if err == nil {
		return false
	}
	var e *NonUniqueResultError
	return errors.As(err, &e) || errors.Is(err, ErrNonUniqueResult)
}

// OptimisticLockError is returned when a versioned update or delete
// affects zero rows.
type OptimisticLockError struct {
	label   string
	id      any
	version any
}

// Error returns the error string.
func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("quill: %s (id=%v, version=%v): optimistic lock failed", e.label, e.id, e.version)
}

// Is reports whether the target matches ErrOptimisticLock.
func (e *OptimisticLockError) Is(err error) bool { return err == ErrOptimisticLock }

// Label returns the entity label.
func (e *OptimisticLockError) Label() string { return e.label }

// ID returns the key of the row that missed.
func (e *OptimisticLockError) ID() any { return e.id }

// Version returns the version the statement expected.
func (e *OptimisticLockError) Version() any { return e.version }

// IsOptimisticLock reports whether the error is an OptimisticLockError.
func IsOptimisticLock(err error) bool {
	if err == nil {
		return false
	}
	var e *OptimisticLockError
	return errors.As(err, &e) || errors.Is(err, ErrOptimisticLock)
}

// IsTemplateError reports whether the error originated in template
// construction or expansion, at any wrapping depth.
func IsTemplateError(err error) bool {
	return errors.Is(err, sqltemplate.ErrTemplate)
}

// IsConstraintViolation reports whether the error came from a database
// constraint violation, regardless of backend.
func IsConstraintViolation(err error) bool {
	return qsql.IsConstraintError(err)
}

// IsUniqueViolation reports whether the error came from a unique or
// primary-key constraint violation.
func IsUniqueViolation(err error) bool {
	return qsql.IsUniqueConstraintError(err)
}

// IsForeignKeyViolation reports whether the error came from a
// foreign-key constraint violation.
func IsForeignKeyViolation(err error) bool {
	return qsql.IsForeignKeyConstraintError(err)
}
