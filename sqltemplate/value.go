package sqltemplate

import (
	"fmt"
	"reflect"

	"github.com/syssam/quill/model"
)

// Value is one injected element of a TemplateString. The set of
// implementations is closed; the processor dispatches exhaustively over
// it, so unknown values cannot reach SQL generation.
type Value interface {
	isValue()
	debug() string
}

// TableRef references an entity type. In FROM/JOIN/INTO/UPDATE position
// it expands to the (escaped) table name plus alias; elsewhere it
// expands to the qualified column list of the type's model.
type TableRef struct {
	Type  reflect.Type
	Alias string // optional caller-requested alias

	// Root and Via bind an auto-joined table to the foreign-key hop
	// path it expands. Plain FROM tables leave both unset.
	Root reflect.Type
	Via  string
}

func (TableRef) isValue() {}
func (v TableRef) debug() string {
	if v.Via != "" {
		return "table:" + v.Type.String() + " via " + v.Via
	}
	return "table:" + v.Type.String()
}

// JoinedTableValue returns a TableRef for a table auto-joined along a
// foreign-key hop path of a root entity already in scope.
func JoinedTableValue(t, root reflect.Type, via string) Value {
	return TableRef{Type: t, Root: root, Via: via}
}

// TableValue returns a TableRef value for the given entity type.
func TableValue[E any]() Value {
	return TableRef{Type: reflect.TypeOf((*E)(nil)).Elem()}
}

// TableValueOf returns a TableRef value for a runtime type with an
// optional alias.
func TableValueOf(t reflect.Type, alias string) Value {
	return TableRef{Type: t, Alias: alias}
}

// PathRef references one or more physical columns through a metamodel
// path. It expands to alias-qualified, escaped column references.
type PathRef struct {
	Path model.Path
	// Scope optionally forces resolution against the outer statement
	// scope, used by correlated subqueries.
	Scope AliasScope
}

func (PathRef) isValue()        {}
func (v PathRef) debug() string { return "path:" + v.Path.String() }

// AliasScope selects which statement level a path reference binds to.
type AliasScope int

const (
	// ScopeAuto resolves against the local scope first, then outward.
	ScopeAuto AliasScope = iota
	// ScopeLocal resolves strictly against the subquery's own scope.
	ScopeLocal
	// ScopeOuter resolves strictly against the enclosing query's scope.
	ScopeOuter
)

// PathValue returns a PathRef value for the given metamodel path.
func PathValue(p model.Path) Value { return PathRef{Path: p} }

// OuterPathValue returns a PathRef bound to the enclosing query's alias
// scope, for correlated subquery predicates.
func OuterPathValue(p model.Path) Value { return PathRef{Path: p, Scope: ScopeOuter} }

// Subquery is the contract a query builder fulfills to be injectable
// into an enclosing template. Lowering is deferred to expansion time.
type Subquery interface {
	// SubqueryTemplate lowers the builder state into a template string.
	SubqueryTemplate() (TemplateString, error)
	// SubqueryType returns the root entity type of the subquery.
	SubqueryType() reflect.Type
}

// SubqueryRef embeds a sub-query builder. It expands recursively in a
// child alias scope chained to the enclosing one.
type SubqueryRef struct {
	Sub Subquery
}

func (SubqueryRef) isValue()        {}
func (v SubqueryRef) debug() string { return "subquery:" + v.Sub.SubqueryType().String() }

// SubqueryValue returns a SubqueryRef value.
func SubqueryValue(sub Subquery) Value { return SubqueryRef{Sub: sub} }

// NestedRef embeds another template string, expanded in place within
// the same alias scope.
type NestedRef struct {
	TS TemplateString
}

func (NestedRef) isValue()        {}
func (v NestedRef) debug() string { return "nested" }

// NestedValue returns a NestedRef value.
func NestedValue(ts TemplateString) Value { return NestedRef{TS: ts} }

// RecordRef embeds an entity instance. It expands to a primary-key
// predicate fragment binding the record's key values.
type RecordRef struct {
	Instance any
}

func (RecordRef) isValue()        {}
func (v RecordRef) debug() string { return fmt.Sprintf("record:%T", v.Instance) }

// RecordValue returns a RecordRef value.
func RecordValue(instance any) Value { return RecordRef{Instance: instance} }

// Param is a bound positional parameter. It always lowers to a bind
// placeholder; the value never concatenates into SQL text.
type Param struct {
	V any
}

func (Param) isValue()        {}
func (v Param) debug() string { return fmt.Sprintf("param:%v", v.V) }

// ParamValue returns a Param value.
func ParamValue(v any) Value { return Param{V: v} }

// Unsafe injects raw SQL text verbatim. It is the explicit opt-out of
// parameter binding and exists for trusted literal clauses only.
type Unsafe struct {
	SQL string
}

func (Unsafe) isValue()        {}
func (v Unsafe) debug() string { return "unsafe:" + v.SQL }

// UnsafeValue returns an Unsafe value.
func UnsafeValue(sql string) Value { return Unsafe{SQL: sql} }
