// Package model derives the structural mapping of entity types: schema
// and table names, the declared and foreign-key-expanded column lists,
// primary-key semantics, metamodel path resolution and value
// extraction.
//
// Mapping metadata is declared on plain structs through `orm` tags and
// naming conventions (columns are snake_cased field names, tables are
// pluralized snake_cased type names via go-openapi/inflect):
//
//	type Pet struct {
//		ID        int       `orm:"pk,auto"`
//		Name      string
//		BirthDate time.Time `orm:"column=birth_date"`
//		Owner     *Owner    // foreign key, expanded depth-first
//	}
//
// Models are interpreted once per type and cached; concurrent
// interpretation of the same type is deduplicated.
package model

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
)

// Field is one directly declared field of an entity struct.
type Field struct {
	// Name is the Go field name.
	Name string
	// Column is the physical column name. For relationship fields it is
	// the base name of the join-key column(s) in the declaring table.
	Column string
	// Index is the struct field index chain within the entity type.
	Index []int
	// Type is the field's Go type as declared.
	Type reflect.Type
	// PrimaryKey, Auto, Version, Nullable, Serialized mirror the tag flags.
	PrimaryKey bool
	Auto       bool
	Version    bool
	Nullable   bool
	Serialized bool
	// Lazy marks a deferred reference (Ref[T]) that contributes its
	// join-key column but is never expanded.
	Lazy bool

	refType   reflect.Type // related entity type for relationship fields
	ref       *Model       // resolved during interpretation
	columnSet bool         // column name came from the tag, not convention
}

// IsRelation reports whether the field references another entity.
func (f *Field) IsRelation() bool { return f.refType != nil }

// Target returns the related model for relationship fields.
func (f *Field) Target() *Model { return f.ref }

// Column is one physical database column of a model's mapping.
type Column struct {
	// Name is the physical column name.
	Name string
	// Model is the model whose table declares this column.
	Model *Model
	// Field is the declared field this column stores. For join-key
	// columns this is the relationship field of the declaring model.
	Field *Field
	// RefPK is, for join-key columns, the primary-key field of the
	// referenced model whose value this column carries.
	RefPK *Field
	// Index is the stable position within the expanded column list.
	// Columns synthesized outside the expansion carry -1.
	Index int
	// Qualifier is the dotted foreign-key hop path from the root entity
	// ("" for columns of the root table).
	Qualifier string
	// PrimaryKey reports whether the column is part of its table's key.
	PrimaryKey bool
	// Nullable reports whether NULL is an admissible value.
	Nullable bool
	// Version reports whether this is the optimistic-lock column.
	Version bool
	// FromRoot reports whether the column originates from the root
	// entity rather than an expanded relationship.
	FromRoot bool
}

// IsJoinKey reports whether the column is a relationship join key held
// by the declaring (parent) table.
func (c *Column) IsJoinKey() bool { return c.RefPK != nil }

// QualifiedName returns the column prefixed by its qualifier, used in
// diagnostics.
func (c *Column) QualifiedName() string {
	if c.Qualifier == "" {
		return c.Name
	}
	return c.Qualifier + "." + c.Name
}

// Model is the structural mapping for one entity, projection or view
// type. Models are immutable once interpreted.
type Model struct {
	// Type is the entity struct type.
	Type reflect.Type
	// Schema is the database schema, empty when unqualified.
	Schema string
	// Table is the table or view name.
	Table string
	// Fields are the directly declared fields in source order.
	Fields []*Field

	pk       []*Field
	expanded []*Column
	declared []*Column
	byName   map[string]*Field
}

// Tabler overrides the conventional table name of an entity.
type Tabler interface {
	TableName() string
}

// Schemer sets the database schema of an entity.
type Schemer interface {
	SchemaName() string
}

// QualifiedTable returns the table name prefixed by the schema, if set.
func (m *Model) QualifiedTable() string {
	if m.Schema == "" {
		return m.Table
	}
	return m.Schema + "." + m.Table
}

// PK returns the primary-key fields, empty for key-less projections.
func (m *Model) PK() []*Field { return m.pk }

// HasPK reports whether the model declares a primary key.
func (m *Model) HasPK() bool { return len(m.pk) > 0 }

// PKType returns the Go type of a single-column primary key, or nil for
// key-less and composite-key models.
func (m *Model) PKType() reflect.Type {
	if len(m.pk) != 1 {
		return nil
	}
	return m.pk[0].Type
}

// VersionField returns the optimistic-lock field, or nil.
func (m *Model) VersionField() *Field {
	for _, f := range m.Fields {
		if f.Version {
			return f
		}
	}
	return nil
}

// FieldByName returns a declared field by its Go name or column name.
func (m *Model) FieldByName(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Columns returns the full expanded column list: every declared field
// in source order, with each relationship contributing its join-key
// column(s) at its declaration position followed, depth-first, by the
// related model's own expansion. The expansion is stable; indices of
// returned columns never change between calls.
func (m *Model) Columns() []*Column { return m.expanded }

// DeclaredColumns returns the columns of the directly declared fields
// in source order. Every declared column's Index points at its
// counterpart within the expanded list, so callers can iterate physical
// layout or full projection without recomputation.
func (m *Model) DeclaredColumns() []*Column { return m.declared }

// ormTag holds the parsed `orm` struct tag.
type ormTag struct {
	column     string
	skip       bool
	pk         bool
	auto       bool
	fk         bool
	version    bool
	nullable   bool
	serialized bool
	lazy       bool
}

func parseTag(tag string) ormTag {
	var t ormTag
	if tag == "-" {
		t.skip = true
		return t
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "pk":
			t.pk = true
		case part == "auto":
			t.auto = true
		case part == "fk":
			t.fk = true
		case part == "version":
			t.version = true
		case part == "nullable":
			t.nullable = true
		case part == "serialized":
			t.serialized = true
		case part == "lazy":
			t.lazy = true
		case strings.HasPrefix(part, "column="):
			t.column = strings.TrimPrefix(part, "column=")
		}
	}
	return t
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	valuerType    = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	byteSliceType = reflect.TypeOf([]byte(nil))
)

// scalarStruct reports whether a struct type maps to a single column
// rather than a relationship.
func scalarStruct(t reflect.Type) bool {
	if t == timeType || t == uuidType {
		return true
	}
	return t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType)
}

// deferredRef is implemented by Ref[T] to expose the referenced type
// without knowing the type parameter.
type deferredRef interface {
	refType() reflect.Type
	refKey() any
}

var deferredRefType = reflect.TypeOf((*deferredRef)(nil)).Elem()

// relationTarget returns the referenced entity type of a field type,
// and whether the reference is deferred (lazy).
func relationTarget(t reflect.Type) (reflect.Type, bool, bool) {
	if t.Implements(deferredRefType) {
		ref := reflect.Zero(t).Interface().(deferredRef)
		return ref.refType(), true, true
	}
	elem := t
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct && !scalarStruct(elem) {
		return elem, false, true
	}
	return nil, false, false
}

// interpreter builds models, tracking in-progress shells so mutually
// referencing entity types interpret exactly once.
type interpreter struct {
	models    map[reflect.Type]*Model
	resolving map[reflect.Type]bool
}

func (in *interpreter) shell(t reflect.Type) (*Model, error) {
	if m, ok := in.models[t]; ok {
		return m, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model: %s is not a struct type", t)
	}
	m := &Model{
		Type:   t,
		Table:  tableName(t),
		byName: make(map[string]*Field),
	}
	if tn, ok := reflect.Zero(t).Interface().(Tabler); ok {
		m.Table = tn.TableName()
	}
	if sn, ok := reflect.Zero(t).Interface().(Schemer); ok {
		m.Schema = sn.SchemaName()
	}
	in.models[t] = m
	if err := in.fields(m, t, nil); err != nil {
		delete(in.models, t)
		return nil, err
	}
	for _, f := range m.Fields {
		if f.PrimaryKey {
			m.pk = append(m.pk, f)
		}
	}
	return m, nil
}

// fields collects the declared fields of t into m, flattening anonymous
// embedded structs.
func (in *interpreter) fields(m *Model, t reflect.Type, chain []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := parseTag(sf.Tag.Get("orm"))
		if tag.skip {
			continue
		}
		index := append(append([]int(nil), chain...), i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !scalarStruct(sf.Type) {
			if err := in.fields(m, sf.Type, index); err != nil {
				return err
			}
			continue
		}
		f := &Field{
			Name:       sf.Name,
			Index:      index,
			Type:       sf.Type,
			PrimaryKey: tag.pk,
			Auto:       tag.auto,
			Version:    tag.version,
			Nullable:   tag.nullable || sf.Type.Kind() == reflect.Pointer,
			Serialized: tag.serialized,
		}
		if target, lazy, isRel := relationTarget(sf.Type); isRel && !tag.serialized {
			f.refType = target
			f.Lazy = lazy || tag.lazy
		} else if tag.fk {
			return fmt.Errorf("model: field %s.%s tagged fk but type %s is not an entity reference",
				t.Name(), sf.Name, sf.Type)
		}
		f.Column = tag.column
		f.columnSet = f.Column != ""
		if f.Column == "" {
			f.Column = columnName(sf.Name)
		}
		m.Fields = append(m.Fields, f)
		m.byName[f.Name] = f
		m.byName[f.Column] = f
	}
	return nil
}

// resolve links relationship fields to their models and computes the
// expanded and declared column lists. The stack guards against cyclic
// expansion of mutually eager relationships.
func (in *interpreter) resolve(m *Model, stack []reflect.Type) error {
	if m.expanded != nil {
		return nil
	}
	for _, t := range stack {
		if t == m.Type {
			return &PathError{
				Kind: PathCycle,
				Type: m.Type,
				Text: fmt.Sprintf("cyclic foreign-key expansion through %s (use a deferred Ref field to break the cycle)", cyclePath(stack, m.Type)),
			}
		}
	}
	if in.resolving[m.Type] {
		return nil
	}
	if in.resolving == nil {
		in.resolving = make(map[reflect.Type]bool)
	}
	in.resolving[m.Type] = true
	defer delete(in.resolving, m.Type)
	stack = append(stack, m.Type)
	for _, f := range m.Fields {
		if !f.IsRelation() {
			continue
		}
		ref, err := in.shell(f.refType)
		if err != nil {
			return err
		}
		f.ref = ref
		if !f.Lazy {
			if err := in.resolve(ref, stack); err != nil {
				return err
			}
		}
	}
	// Lazy relations resolve their shells after the eager pass so that
	// cycles broken by Ref fields interpret cleanly.
	for _, f := range m.Fields {
		if f.IsRelation() && f.ref.expanded == nil {
			if err := in.resolve(f.ref, nil); err != nil {
				return err
			}
		}
	}
	m.expanded = expand(m, "", true)
	m.declared = declare(m)
	return nil
}

// expand produces the depth-first expanded column list of m with the
// given qualifier prefix.
func expand(m *Model, qualifier string, fromRoot bool) []*Column {
	var cols []*Column
	for _, f := range m.Fields {
		if !f.IsRelation() {
			cols = append(cols, &Column{
				Name:       f.Column,
				Model:      m,
				Field:      f,
				Qualifier:  qualifier,
				PrimaryKey: f.PrimaryKey,
				Nullable:   f.Nullable,
				Version:    f.Version,
				FromRoot:   fromRoot,
			})
			continue
		}
		cols = append(cols, joinKeyColumns(m, f, qualifier, fromRoot)...)
		if f.Lazy {
			continue
		}
		sub := qualify(qualifier, f.Name)
		cols = append(cols, expand(f.ref, sub, false)...)
	}
	for i, c := range cols {
		c.Index = i
	}
	return cols
}

// joinKeyColumns returns the join-key column(s) a relationship field
// contributes to its declaring table: one per primary-key field of the
// referenced model, held by the parent row.
func joinKeyColumns(m *Model, f *Field, qualifier string, fromRoot bool) []*Column {
	pk := f.ref.pk
	cols := make([]*Column, 0, len(pk))
	for _, p := range pk {
		name := f.Column
		if len(pk) > 1 {
			name = f.Column + "_" + p.Column
		} else if !f.columnSet {
			// Conventional join-key naming: owner -> owner_id.
			name = f.Column + "_" + p.Column
		}
		cols = append(cols, &Column{
			Name:       name,
			Model:      m,
			Field:      f,
			RefPK:      p,
			Qualifier:  qualifier,
			PrimaryKey: f.PrimaryKey,
			Nullable:   f.Nullable,
			FromRoot:   fromRoot,
		})
	}
	return cols
}

// declare produces the declared column list, pointing every column at
// its counterpart in the expanded list.
func declare(m *Model) []*Column {
	var cols []*Column
	for _, ec := range m.expanded {
		if !ec.FromRoot || ec.Qualifier != "" {
			continue
		}
		cols = append(cols, ec)
	}
	return cols
}

func qualify(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

func cyclePath(stack []reflect.Type, repeat reflect.Type) string {
	names := make([]string, 0, len(stack)+1)
	for _, t := range stack {
		names = append(names, t.Name())
	}
	names = append(names, repeat.Name())
	return strings.Join(names, " -> ")
}

// tableName derives the conventional table name of a type.
func tableName(t reflect.Type) string {
	return inflect.Pluralize(columnName(t.Name()))
}

// columnName snake_cases a Go identifier, keeping an initialism run as
// one word: ID -> id, OwnerID -> owner_id, HTTPStatus -> http_status.
// inflect.Underscore would split the run letter by letter.
func columnName(name string) string {
	var b strings.Builder
	rs := []rune(name)
	for i, r := range rs {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		prevLower := i > 0 && !unicode.IsUpper(rs[i-1]) && rs[i-1] != '_'
		startsWord := i > 0 && unicode.IsUpper(rs[i-1]) && i+1 < len(rs) && unicode.IsLower(rs[i+1])
		if prevLower || startsWord {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
