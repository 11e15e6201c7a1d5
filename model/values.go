package model

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// ColumnValue extracts the database value a column stores for one
// record. Join-key columns yield the referenced row's primary-key
// value, deferred references yield their carried key, and serialized
// fields are encoded to msgpack. A nil hop anywhere along the
// qualifier yields NULL.
func ColumnValue(c *Column, record any) (any, error) {
	rv, err := holder(c, record)
	if err != nil || !rv.IsValid() {
		return nil, err
	}
	fv := rv.FieldByIndex(c.Field.Index)
	if c.IsJoinKey() {
		return joinKeyValue(c, fv)
	}
	return fieldValue(c.Field, fv)
}

// Values extracts the stored values for a set of columns of one record,
// in column order.
func Values(cols []*Column, record any) ([]any, error) {
	out := make([]any, len(cols))
	for i, c := range cols {
		v, err := ColumnValue(c, record)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// PKValue returns the single-column primary-key value of a record, or
// nil when unset.
func PKValue(m *Model, record any) (any, error) {
	if len(m.pk) != 1 {
		return nil, pathErr(PathNoKey, m.Type, "", "%s does not declare a single-column primary key", m.Type)
	}
	rv, err := structValue(m.Type, record)
	if err != nil {
		return nil, err
	}
	return fieldValue(m.pk[0], rv.FieldByIndex(m.pk[0].Index))
}

// holder walks a column's qualifier from the root record down to the
// struct value that declares the column's field. The returned value is
// invalid when a nullable hop is nil.
func holder(c *Column, record any) (reflect.Value, error) {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("model: record %T is not a struct", record)
	}
	if c.Qualifier == "" {
		return rv, nil
	}
	cur := rv
	for _, seg := range splitQualifier(c.Qualifier) {
		sf := fieldByPathName(cur, seg)
		if !sf.IsValid() {
			return reflect.Value{}, fmt.Errorf("model: record %T has no field %q", record, seg)
		}
		for sf.Kind() == reflect.Pointer {
			if sf.IsNil() {
				return reflect.Value{}, nil
			}
			sf = sf.Elem()
		}
		if sf.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("model: qualifier segment %q of %T is not a struct", seg, record)
		}
		cur = sf
	}
	return cur, nil
}

func structValue(t reflect.Type, record any) (reflect.Value, error) {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("model: nil record for %s", t)
		}
		rv = rv.Elem()
	}
	if rv.Type() != t {
		return reflect.Value{}, fmt.Errorf("model: record %T is not a %s", record, t)
	}
	return rv, nil
}

func fieldByPathName(rv reflect.Value, name string) reflect.Value {
	return rv.FieldByName(name)
}

func splitQualifier(q string) []string {
	var segs []string
	for q != "" {
		i := 0
		for i < len(q) && q[i] != '.' {
			i++
		}
		segs = append(segs, q[:i])
		if i < len(q) {
			i++
		}
		q = q[i:]
	}
	return segs
}

// joinKeyValue unwraps a relationship field value to the referenced
// row's primary-key value.
func joinKeyValue(c *Column, fv reflect.Value) (any, error) {
	if dr, ok := fv.Interface().(deferredRef); ok {
		return dr.refKey(), nil
	}
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model: join key %s holds non-entity value %s", c.Name, fv.Type())
	}
	return fieldValue(c.RefPK, fv.FieldByIndex(c.RefPK.Index))
}

// fieldValue converts one scalar field value to its database
// representation.
func fieldValue(f *Field, fv reflect.Value) (any, error) {
	if f.Serialized {
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			return nil, nil
		}
		b, err := msgpack.Marshal(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("model: serializing %s: %w", f.Name, err)
		}
		return b, nil
	}
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	return fv.Interface(), nil
}
