package model

import "reflect"

// Ref is a deferred reference to an entity: it carries the referenced
// row's primary-key value but is never expanded into the declaring
// model's column list, breaking foreign-key cycles and keeping wide
// graphs out of every SELECT. The zero Ref is a null reference.
type Ref[T any] struct {
	// Key is the referenced row's primary-key value, nil when the
	// reference is null or the row has not been persisted yet.
	Key any
}

// NewRef returns a deferred reference carrying the given key.
func NewRef[T any](key any) Ref[T] { return Ref[T]{Key: key} }

// IsNil reports whether the reference points at no row.
func (r Ref[T]) IsNil() bool { return r.Key == nil }

func (r Ref[T]) refType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func (r Ref[T]) refKey() any { return r.Key }

// KeyOf unwraps a deferred reference value to its carried key. The
// second result reports whether v is a deferred reference at all.
func KeyOf(v any) (any, bool) {
	if dr, ok := v.(deferredRef); ok {
		return dr.refKey(), true
	}
	return nil, false
}
