package quill

import (
	qsql "github.com/syssam/quill/dialect/sql"
)

// Stream is a forward-only cursor over query results, decoding one
// element per underlying row. Closing is idempotent; a decode failure
// sticks and surfaces from Err after iteration stops.
type Stream[T any] struct {
	rows   qsql.Rows
	decode func(qsql.Rows) (T, error)
	cur    T
	err    error
	closed bool
}

func newStream[T any](rows qsql.Rows, decode func(qsql.Rows) (T, error)) *Stream[T] {
	return &Stream[T]{rows: rows, decode: decode}
}

// Next advances to the next element, reporting whether one is
// available.
func (s *Stream[T]) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		_ = s.Close()
		return false
	}
	v, err := s.decode(s.rows)
	if err != nil {
		s.err = err
		_ = s.Close()
		return false
	}
	s.cur = v
	return true
}

// Value returns the current element.
func (s *Stream[T]) Value() T { return s.cur }

// Err returns the first error hit while iterating or decoding.
func (s *Stream[T]) Err() error { return s.err }

// Close releases the underlying rows. It is safe to call more than
// once and after exhaustion.
func (s *Stream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rows.Close()
}

// Slice reads up to n further elements into a slice, or every
// remaining element when n <= 0.
func (s *Stream[T]) Slice(n int) ([]T, error) {
	var out []T
	for (n <= 0 || len(out) < n) && s.Next() {
		out = append(out, s.Value())
	}
	return out, s.Err()
}

// streamAll drains a stream into a slice.
func streamAll[T any](s *Stream[T]) ([]T, error) {
	return s.Slice(0)
}
