package model

import (
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	cache sync.Map // reflect.Type -> *Model
	group singleflight.Group
)

// Of returns the cached model of the entity type E, interpreting it on
// first use.
func Of[E any]() (*Model, error) {
	return Interpret(reflect.TypeOf((*E)(nil)).Elem())
}

// MustOf is like Of but panics on interpretation failure. Intended for
// package-level metamodel declarations.
func MustOf[E any]() *Model {
	m, err := Of[E]()
	if err != nil {
		panic(err)
	}
	return m
}

// Interpret returns the model of the given entity type, building and
// caching it on first use. Concurrent interpretation of one type is
// deduplicated; every caller observes the same *Model instance.
func Interpret(t reflect.Type) (*Model, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if m, ok := cache.Load(t); ok {
		return m.(*Model), nil
	}
	v, err, _ := group.Do(t.String(), func() (any, error) {
		if m, ok := cache.Load(t); ok {
			return m.(*Model), nil
		}
		in := &interpreter{models: make(map[reflect.Type]*Model)}
		m, err := in.shell(t)
		if err != nil {
			return nil, err
		}
		if err := in.resolve(m, nil); err != nil {
			return nil, err
		}
		// Publish every model the interpretation transitively built.
		for typ, built := range in.models {
			if built.expanded != nil {
				cache.LoadOrStore(typ, built)
			}
		}
		if cached, ok := cache.Load(t); ok {
			return cached.(*Model), nil
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

// InterpretRequired is like Interpret but fails for models without a
// primary key, for callers that need identity semantics (repositories,
// reference lists).
func InterpretRequired(t reflect.Type) (*Model, error) {
	m, err := Interpret(t)
	if err != nil {
		return nil, err
	}
	if !m.HasPK() {
		return nil, pathErr(PathNoKey, m.Type, "", "type %s declares no primary key", m.Type)
	}
	return m, nil
}

// InterpretValue interprets the dynamic type of an entity instance.
func InterpretValue(instance any) (*Model, error) {
	if instance == nil {
		return nil, fmt.Errorf("model: cannot interpret nil instance")
	}
	return Interpret(reflect.TypeOf(instance))
}
