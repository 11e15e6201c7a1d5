package model

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Scanner assembles entity records from scanned rows following a
// column list. Nested structs along qualified columns are allocated on
// demand; a relationship whose columns all scan NULL stays nil.
type Scanner struct {
	model *Model
	cols  []*Column
}

// NewScanner returns a scanner producing *E records for the model's
// entity type from the given columns.
func NewScanner(m *Model, cols []*Column) *Scanner {
	return &Scanner{model: m, cols: cols}
}

// Targets returns fresh scan destinations, one per column.
func (s *Scanner) Targets() []any {
	out := make([]any, len(s.cols))
	for i := range out {
		out[i] = new(any)
	}
	return out
}

// Assemble builds one record from the destinations filled by a prior
// row scan. The result is a pointer to the model's entity type.
func (s *Scanner) Assemble(targets []any) (any, error) {
	if len(targets) != len(s.cols) {
		return nil, fmt.Errorf("model: %d scan targets for %d columns", len(targets), len(s.cols))
	}
	rec := reflect.New(s.model.Type)
	for i, c := range s.cols {
		raw := *targets[i].(*any)
		if raw == nil {
			continue
		}
		fv, err := s.navigate(rec.Elem(), c)
		if err != nil {
			return nil, err
		}
		if c.IsJoinKey() {
			if err := setJoinKey(c, fv, raw); err != nil {
				return nil, err
			}
			continue
		}
		if err := setField(c.Field, fv, raw); err != nil {
			return nil, err
		}
	}
	return rec.Interface(), nil
}

// navigate walks the column's qualifier from the root record, creating
// intermediate structs, and returns the field value the column stores.
func (s *Scanner) navigate(root reflect.Value, c *Column) (reflect.Value, error) {
	cur := root
	for _, seg := range splitQualifier(c.Qualifier) {
		f := cur.FieldByName(seg)
		if !f.IsValid() {
			return reflect.Value{}, fmt.Errorf("model: %s has no field %q", cur.Type(), seg)
		}
		for f.Kind() == reflect.Pointer {
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			f = f.Elem()
		}
		cur = f
	}
	return cur.FieldByIndex(c.Field.Index), nil
}

// setJoinKey stores a scanned join-key value on a relationship field.
// Deferred references carry the key directly; eager relationships get
// their referenced struct allocated with the key on its primary key.
func setJoinKey(c *Column, fv reflect.Value, raw any) error {
	if fv.Type().Implements(deferredRefType) {
		key := fv.FieldByName("Key")
		kv, err := coerce(raw, c.RefPK.Type, false)
		if err != nil {
			return fmt.Errorf("model: column %s: %w", c.Name, err)
		}
		key.Set(reflect.ValueOf(kv.Interface()))
		return nil
	}
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	return setField(c.RefPK, fv.FieldByIndex(c.RefPK.Index), raw)
}

// setField coerces a scanned value into one scalar field.
func setField(f *Field, fv reflect.Value, raw any) error {
	v, err := coerce(raw, fv.Type(), f.Serialized)
	if err != nil {
		return fmt.Errorf("model: column %s: %w", f.Column, err)
	}
	fv.Set(v)
	return nil
}

// CoercePK converts a scanned driver value to the model's primary-key
// type, so keys loaded from rows compare equal to keys assigned in Go.
func (m *Model) CoercePK(v any) (any, error) {
	t := m.PKType()
	if t == nil {
		return nil, pathErr(PathNoKey, m.Type, "", "%s does not declare a single-column primary key", m.Type)
	}
	if v == nil {
		return nil, nil
	}
	rv, err := coerce(v, t, false)
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// coerce converts a driver value to the target field type.
func coerce(raw any, t reflect.Type, serialized bool) (reflect.Value, error) {
	if serialized {
		b, ok := raw.([]byte)
		if !ok {
			if s, sok := raw.(string); sok {
				b = []byte(s)
			} else {
				return reflect.Value{}, fmt.Errorf("serialized value is %T, want []byte", raw)
			}
		}
		out := reflect.New(t)
		if err := msgpack.Unmarshal(b, out.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return out.Elem(), nil
	}
	if t.Kind() == reflect.Pointer {
		ev, err := coerce(raw, t.Elem(), false)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t.Elem())
		out.Elem().Set(ev)
		return out, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type() == t {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && compatibleKinds(rv.Kind(), t.Kind()) {
		return rv.Convert(t), nil
	}
	switch {
	case t == timeType:
		if tv, ok := raw.(time.Time); ok {
			return reflect.ValueOf(tv), nil
		}
	case t == uuidType:
		switch v := raw.(type) {
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		case []byte:
			if len(v) == 16 {
				id, err := uuid.FromBytes(v)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(id), nil
			}
			id, err := uuid.ParseBytes(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		}
	case t.Kind() == reflect.String:
		if b, ok := raw.([]byte); ok {
			return reflect.ValueOf(string(b)).Convert(t), nil
		}
	case t == byteSliceType:
		if s, ok := raw.(string); ok {
			return reflect.ValueOf([]byte(s)), nil
		}
	case t.Kind() == reflect.Bool:
		if n, ok := raw.(int64); ok {
			return reflect.ValueOf(n != 0), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot assign %T to %s", raw, t)
}

// compatibleKinds restricts reflect conversion to numeric and string
// families so []byte does not silently convert to string-backed enums
// with garbage.
func compatibleKinds(from, to reflect.Kind) bool {
	return numericKind(from) && numericKind(to) || from == reflect.String && to == reflect.String
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
