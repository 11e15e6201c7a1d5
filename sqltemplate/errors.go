package sqltemplate

import (
	"errors"
	"fmt"
)

// ErrTemplate is the sentinel all template resolution errors match via
// errors.Is. Callers that need the precise failure inspect the Kind.
var ErrTemplate = errors.New("sqltemplate: template error")

// ErrorKind classifies template resolution failures.
type ErrorKind int

const (
	// KindMalformed indicates a fragment/value count mismatch at construction.
	KindMalformed ErrorKind = iota
	// KindInvalidPath indicates a metamodel path that resolves to nothing.
	KindInvalidPath
	// KindAmbiguousAlias indicates a column reference that matches more than
	// one alias in the active statement scope.
	KindAmbiguousAlias
	// KindMissingForeignKey indicates an auto-join between two types that
	// declare no foreign-key relationship.
	KindMissingForeignKey
	// KindTypeMismatch indicates a subquery or record whose type does not
	// match the query it was inserted into.
	KindTypeMismatch
	// KindChainedWhere indicates a second WHERE installed on one builder.
	KindChainedWhere
	// KindEmptyCollection indicates an operator that rejects empty value
	// collections (EQ, NEQ) received one.
	KindEmptyCollection
	// KindUnsafeStatement indicates an UPDATE or DELETE without a WHERE
	// clause and without an explicit Safe() call.
	KindUnsafeStatement
)

var kindNames = map[ErrorKind]string{
	KindMalformed:         "malformed template",
	KindInvalidPath:       "invalid path",
	KindAmbiguousAlias:    "ambiguous alias",
	KindMissingForeignKey: "missing foreign key",
	KindTypeMismatch:      "type mismatch",
	KindChainedWhere:      "chained where",
	KindEmptyCollection:   "empty collection",
	KindUnsafeStatement:   "unsafe statement",
}

// String returns the kind name.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TemplateError is the single error type raised for all template
// resolution failures: invalid paths, ambiguous aliases, missing
// foreign-key relations, chained WHERE clauses, and operator misuse.
type TemplateError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sqltemplate: %s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("sqltemplate: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *TemplateError) Unwrap() error { return e.Cause }

// Is reports whether the target matches the template error sentinel.
func (e *TemplateError) Is(target error) bool { return target == ErrTemplate }

// NewError returns a TemplateError of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *TemplateError {
	return &TemplateError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns a TemplateError of the given kind wrapping cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *TemplateError {
	return &TemplateError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AsTemplateError extracts a *TemplateError from the error chain.
func AsTemplateError(err error) (*TemplateError, bool) {
	var te *TemplateError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
