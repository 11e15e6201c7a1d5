// Package dirty implements field-level change detection between two
// snapshots of an entity. Comparators are compiled per (type, field,
// strategy) and cached, so steady-state checks do no reflection-based
// decision making beyond value access.
package dirty

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/syssam/quill/model"
)

// Strategy selects how two field values are compared.
type Strategy int

const (
	// Instance compares reference-shaped fields (pointers to structs,
	// slices, maps) by identity: a copy with equal contents is a
	// change. Scalars always compare by value.
	Instance Strategy = iota
	// Value compares semantically: bit-exact numerics, relationship
	// fields by referenced primary key, structural equality for the
	// rest.
	Value
)

func (s Strategy) String() string {
	switch s {
	case Instance:
		return "instance"
	case Value:
		return "value"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// UpdateMode selects how much of a changed entity an UPDATE writes.
type UpdateMode int

const (
	// UpdateOff disables dirty checking; every update writes all
	// columns unconditionally.
	UpdateOff UpdateMode = iota
	// UpdateEntity writes all columns when at least one field changed,
	// and skips the statement entirely when nothing changed.
	UpdateEntity
	// UpdateField writes only the columns whose fields changed.
	UpdateField
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateOff:
		return "off"
	case UpdateEntity:
		return "entity"
	case UpdateField:
		return "field"
	default:
		return fmt.Sprintf("UpdateMode(%d)", int(m))
	}
}

// comparator reports whether two field values differ.
type comparator func(old, new reflect.Value) (bool, error)

type comparatorKey struct {
	typ      reflect.Type
	field    string
	strategy Strategy
}

var comparators sync.Map // comparatorKey -> comparator

// FieldsChanged compares two snapshots of an entity and returns the
// declared columns whose fields differ, in declaration order. Both
// records must be instances of m's entity type; old may be nil, in
// which case every non-nil column of new is reported.
func FieldsChanged(m *model.Model, strategy Strategy, old, new any) ([]*model.Column, error) {
	if old == nil {
		return m.DeclaredColumns(), nil
	}
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(new)
	for ov.Kind() == reflect.Pointer {
		ov = ov.Elem()
	}
	for nv.Kind() == reflect.Pointer {
		nv = nv.Elem()
	}
	if ov.Type() != m.Type || nv.Type() != m.Type {
		return nil, fmt.Errorf("dirty: comparing %s and %s as %s", ov.Type(), nv.Type(), m.Type)
	}
	var changed []*model.Column
	for _, c := range m.DeclaredColumns() {
		cmp, err := comparatorFor(m, c, strategy)
		if err != nil {
			return nil, err
		}
		diff, err := cmp(ov.FieldByIndex(c.Field.Index), nv.FieldByIndex(c.Field.Index))
		if err != nil {
			return nil, err
		}
		if diff {
			changed = append(changed, c)
		}
	}
	return changed, nil
}

// Changed reports whether any declared field differs between the two
// snapshots.
func Changed(m *model.Model, strategy Strategy, old, new any) (bool, error) {
	cols, err := FieldsChanged(m, strategy, old, new)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

func comparatorFor(m *model.Model, c *model.Column, strategy Strategy) (comparator, error) {
	key := comparatorKey{typ: m.Type, field: c.Field.Name, strategy: strategy}
	if cmp, ok := comparators.Load(key); ok {
		return cmp.(comparator), nil
	}
	cmp, err := compile(c, strategy)
	if err != nil {
		return nil, err
	}
	actual, _ := comparators.LoadOrStore(key, cmp)
	return actual.(comparator), nil
}

// compile builds the comparator for one column.
func compile(c *model.Column, strategy Strategy) (comparator, error) {
	f := c.Field
	switch {
	case f.IsRelation():
		return relationComparator(f, strategy), nil
	case f.Serialized:
		return serializedComparator(f), nil
	}
	if strategy == Instance && identityCompared(f.Type) {
		return identityComparator(), nil
	}
	t := f.Type
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float64:
		return deref(floats64Equal), nil
	case reflect.Float32:
		return deref(floats32Equal), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return deref(func(a, b reflect.Value) bool {
				return bytes.Equal(a.Bytes(), b.Bytes())
			}), nil
		}
		return deref(func(a, b reflect.Value) bool {
			return reflect.DeepEqual(a.Interface(), b.Interface())
		}), nil
	case reflect.Map:
		return deref(func(a, b reflect.Value) bool {
			return reflect.DeepEqual(a.Interface(), b.Interface())
		}), nil
	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return deref(func(a, b reflect.Value) bool {
				return a.Interface().(time.Time).Equal(b.Interface().(time.Time))
			}), nil
		}
		return deref(func(a, b reflect.Value) bool {
			return reflect.DeepEqual(a.Interface(), b.Interface())
		}), nil
	default:
		return deref(func(a, b reflect.Value) bool {
			return a.Interface() == b.Interface()
		}), nil
	}
}

// floats64Equal treats NaN as equal to NaN and distinguishes the two
// signed zeroes, comparing by bit pattern.
func floats64Equal(a, b reflect.Value) bool {
	return math.Float64bits(a.Float()) == math.Float64bits(b.Float())
}

func floats32Equal(a, b reflect.Value) bool {
	return math.Float32bits(float32(a.Float())) == math.Float32bits(float32(b.Float()))
}

// deref lifts a same-type equality over optional pointer wrapping: two
// nils are equal, nil never equals non-nil.
func deref(eq func(a, b reflect.Value) bool) comparator {
	return func(old, new reflect.Value) (bool, error) {
		for old.Kind() == reflect.Pointer || new.Kind() == reflect.Pointer {
			oNil := old.Kind() == reflect.Pointer && old.IsNil()
			nNil := new.Kind() == reflect.Pointer && new.IsNil()
			if oNil || nNil {
				return oNil != nNil, nil
			}
			if old.Kind() == reflect.Pointer {
				old = old.Elem()
			}
			if new.Kind() == reflect.Pointer {
				new = new.Elem()
			}
		}
		return !eq(old, new), nil
	}
}

// identityCompared reports whether a field type carries a reference
// the Instance strategy can compare: slices, maps, and pointers to
// structs other than time.Time. Pointer-wrapped scalars stay value
// compared, they are nullable columns rather than objects.
func identityCompared(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return true
	case reflect.Pointer:
		e := t.Elem()
		return e.Kind() == reflect.Struct && e != reflect.TypeOf(time.Time{})
	}
	return false
}

// identityComparator reports a change whenever the two snapshots do
// not share the same underlying reference. Two nils are equal.
func identityComparator() comparator {
	return func(old, new reflect.Value) (bool, error) {
		oNil := refNil(old)
		nNil := refNil(new)
		if oNil || nNil {
			return oNil != nNil, nil
		}
		return old.Pointer() != new.Pointer(), nil
	}
}

func refNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}

// relationComparator compares relationship fields by the referenced
// row's primary key under Value strategy, and by reference identity
// under Instance. A deferred Ref carries only its key, so it compares
// by key under either strategy.
func relationComparator(f *model.Field, strategy Strategy) comparator {
	if strategy == Instance && f.Type.Kind() == reflect.Pointer {
		return identityComparator()
	}
	target := f.Target()
	return func(old, new reflect.Value) (bool, error) {
		ok, err := refKey(target, old)
		if err != nil {
			return false, err
		}
		nk, err := refKey(target, new)
		if err != nil {
			return false, err
		}
		if ok == nil || nk == nil {
			return (ok == nil) != (nk == nil), nil
		}
		return ok != nk, nil
	}
}

// refKey extracts the referenced primary key of a relationship field
// value, nil for null references.
func refKey(target *model.Model, fv reflect.Value) (any, error) {
	if k, ok := model.KeyOf(fv.Interface()); ok {
		return k, nil
	}
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	return model.PKValue(target, fv.Interface())
}

// serializedComparator compares serialized fields by their decoded
// structural value, not their encoding.
func serializedComparator(f *model.Field) comparator {
	return func(old, new reflect.Value) (bool, error) {
		return !reflect.DeepEqual(old.Interface(), new.Interface()), nil
	}
}
