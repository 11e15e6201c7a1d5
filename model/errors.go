package model

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrPath is the sentinel all path-resolution errors match via errors.Is.
var ErrPath = errors.New("model: path error")

// PathKind classifies path-resolution failures.
type PathKind int

const (
	// PathInvalid indicates a path segment that does not exist or
	// traverses a non-relationship field.
	PathInvalid PathKind = iota
	// PathNotSingle indicates a path that resolved to zero or multiple
	// columns where exactly one was required.
	PathNotSingle
	// PathCycle indicates a cyclic foreign-key expansion.
	PathCycle
	// PathAmbiguous indicates more than one route to a referenced type.
	PathAmbiguous
	// PathNoKey indicates a model without a primary key where one is
	// required.
	PathNoKey
)

func (k PathKind) String() string {
	switch k {
	case PathInvalid:
		return "invalid path"
	case PathNotSingle:
		return "not a single column"
	case PathCycle:
		return "cyclic expansion"
	case PathAmbiguous:
		return "ambiguous path"
	case PathNoKey:
		return "missing primary key"
	}
	return fmt.Sprintf("path kind(%d)", int(k))
}

// PathError reports a metamodel path that could not be resolved against
// a model. The message always names the offending path and root type.
type PathError struct {
	Kind PathKind
	Type reflect.Type
	Path string
	Text string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	msg := fmt.Sprintf("model: %s", e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Type != nil {
		msg += " on " + e.Type.String()
	}
	if e.Text != "" {
		msg += ": " + e.Text
	}
	return msg
}

// Is reports whether the target matches the path error sentinel.
func (e *PathError) Is(target error) bool { return target == ErrPath }

func pathErr(kind PathKind, t reflect.Type, path, format string, args ...any) *PathError {
	return &PathError{Kind: kind, Type: t, Path: path, Text: fmt.Sprintf(format, args...)}
}
