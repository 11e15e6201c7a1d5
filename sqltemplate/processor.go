package sqltemplate

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/syssam/quill/model"
)

// Sql is an expanded statement: dialect-correct SQL text plus the
// ordered positional parameters, aligned with the placeholders in the
// text.
type Sql struct {
	Statement string
	Params    []any
}

// Processor expands template strings into SQL for one dialect.
// Processors are stateless and safe for concurrent use.
type Processor struct {
	dialect Dialect
}

// NewProcessor returns a processor for the given dialect.
func NewProcessor(d Dialect) *Processor {
	return &Processor{dialect: d}
}

// Dialect returns the processor's dialect.
func (p *Processor) Dialect() Dialect { return p.dialect }

// Process expands a template string into SQL text and parameters.
// Table references are registered into an alias scope before any text
// is emitted, so forward references resolve and colliding aliases are
// renamed deterministically with numeric suffixes. Subqueries expand in
// child scopes chained to the enclosing one.
func (p *Processor) Process(ts TemplateString) (Sql, error) {
	e := &expansion{p: p}
	sc := &scope{}
	if err := e.register(ts, sc); err != nil {
		return Sql{}, err
	}
	if err := e.emit(ts, sc); err != nil {
		return Sql{}, err
	}
	return Sql{Statement: e.b.String(), Params: e.params}, nil
}

// tableEntry is one table bound into an alias scope.
type tableEntry struct {
	typ       reflect.Type
	root      reflect.Type // path root for auto-joined tables
	via       string       // foreign-key hop path, "" for FROM tables
	requested string       // alias the reference asked for, "" for the default
	alias     string
	model     *model.Model
}

// scope is one level of alias visibility. Subqueries chain a child
// scope to their enclosing statement's scope.
type scope struct {
	parent  *scope
	entries []*tableEntry
}

// lookupRoot finds the entry a path root binds to in this scope alone.
func (s *scope) lookupRoot(t reflect.Type) (*tableEntry, int) {
	var (
		found *tableEntry
		n     int
	)
	for _, e := range s.entries {
		if e.via == "" && e.typ == t {
			found = e
			n++
		}
	}
	return found, n
}

// lookupVia finds the auto-joined entry for a hop path of a root.
func (s *scope) lookupVia(root reflect.Type, via string) *tableEntry {
	for _, e := range s.entries {
		if e.via == via && e.root == root {
			return e
		}
	}
	return nil
}

// aliasTaken reports whether an alias is visible anywhere in the chain.
func (s *scope) aliasTaken(alias string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		for _, e := range sc.entries {
			if e.alias == alias {
				return true
			}
		}
	}
	return false
}

// expansion accumulates the output of one Process call. The
// placeholder counter is shared across subquery scopes so numbered
// placeholders stay globally sequential.
type expansion struct {
	p      *Processor
	b      strings.Builder
	params []any
	n      int
}

// register walks a template and binds every table reference into the
// scope. Nested templates share the scope; subquery templates are
// deferred to emission, where they register into their own child scope.
func (e *expansion) register(ts TemplateString, sc *scope) error {
	for _, v := range ts.values {
		switch v := v.(type) {
		case TableRef:
			if err := e.bind(v, sc); err != nil {
				return err
			}
		case NestedRef:
			if err := e.register(v.TS, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *expansion) bind(v TableRef, sc *scope) error {
	m, err := model.Interpret(v.Type)
	if err != nil {
		return WrapError(KindInvalidPath, err, "binding table for %s", v.Type)
	}
	entry := &tableEntry{typ: v.Type, root: v.Root, via: v.Via, requested: v.Alias, model: m}
	if entry.via == "" {
		entry.root = v.Type
	}
	if entry.via != "" {
		if prev := sc.lookupVia(entry.root, entry.via); prev != nil {
			// The same hop joined twice resolves to one table.
			return nil
		}
	} else {
		// The same table referenced under the same alias, in any
		// position, is one table. Distinct aliases bind distinct tables.
		for _, prev := range sc.entries {
			if prev.via == "" && prev.typ == entry.typ && prev.requested == entry.requested {
				return nil
			}
		}
	}
	base := v.Alias
	if base == "" {
		base = m.Table
	}
	alias := base
	for i := 1; sc.aliasTaken(alias); i++ {
		alias = base + strconv.Itoa(i)
	}
	entry.alias = alias
	sc.entries = append(sc.entries, entry)
	return nil
}

// emit writes a template's fragments and expanded values in order.
func (e *expansion) emit(ts TemplateString, sc *scope) error {
	for i, f := range ts.fragments {
		e.b.WriteString(f)
		if i >= len(ts.values) {
			continue
		}
		if err := e.value(ts.values[i], sc); err != nil {
			return err
		}
	}
	return nil
}

// value dispatches over the closed value set.
func (e *expansion) value(v Value, sc *scope) error {
	switch v := v.(type) {
	case TableRef:
		return e.tableRef(v, sc)
	case PathRef:
		return e.pathRef(v, sc)
	case SubqueryRef:
		return e.subquery(v, sc)
	case NestedRef:
		return e.emit(v.TS, sc)
	case RecordRef:
		return e.record(v, sc)
	case Param:
		e.placeholder(v.V)
		return nil
	case Unsafe:
		e.b.WriteString(v.SQL)
		return nil
	default:
		return NewError(KindMalformed, "unknown template value %T", v)
	}
}

// placeholder emits the next bind placeholder and appends its value.
func (e *expansion) placeholder(v any) {
	e.n++
	e.b.WriteString(e.p.dialect.Placeholder(e.n))
	e.params = append(e.params, v)
}

// tableRef expands a table reference. After FROM, JOIN, INTO or UPDATE
// it emits the escaped table name plus its alias; elsewhere it emits
// the alias-qualified declared column list.
func (e *expansion) tableRef(v TableRef, sc *scope) error {
	entry, err := e.entryFor(v, sc)
	if err != nil {
		return err
	}
	d := e.p.dialect
	if tablePosition(e.b.String()) {
		if s := entry.model.Schema; s != "" {
			e.b.WriteString(d.MaybeEscape(s))
			e.b.WriteByte('.')
		}
		e.b.WriteString(d.MaybeEscape(entry.model.Table))
		if entry.alias != entry.model.Table {
			e.b.WriteString(" AS ")
			e.b.WriteString(d.MaybeEscape(entry.alias))
		}
		return nil
	}
	for i, c := range entry.model.DeclaredColumns() {
		if i > 0 {
			e.b.WriteString(", ")
		}
		e.qualified(entry.alias, c.Name)
	}
	return nil
}

func (e *expansion) entryFor(v TableRef, sc *scope) (*tableEntry, error) {
	if v.Via != "" {
		if entry := sc.lookupVia(v.Root, v.Via); entry != nil {
			return entry, nil
		}
		return nil, NewError(KindInvalidPath, "joined table %s via %q is not in scope", v.Type, v.Via)
	}
	if v.Alias != "" {
		for _, entry := range sc.entries {
			if entry.via == "" && entry.typ == v.Type && entry.requested == v.Alias {
				return entry, nil
			}
		}
	}
	entry, n := sc.lookupRoot(v.Type)
	switch n {
	case 1:
		return entry, nil
	case 0:
		return nil, NewError(KindInvalidPath, "table for %s is not in scope", v.Type)
	default:
		return nil, NewError(KindAmbiguousAlias, "%d tables for %s in scope, reference is ambiguous", n, v.Type)
	}
}

// tablePosition reports whether the text emitted so far ends in a
// clause that takes a table name next.
func tablePosition(out string) bool {
	i := len(out)
	for i > 0 && (out[i-1] == ' ' || out[i-1] == '\t' || out[i-1] == '\n' || out[i-1] == '(') {
		i--
	}
	j := i
	for j > 0 && out[j-1] != ' ' && out[j-1] != '\t' && out[j-1] != '\n' && out[j-1] != '(' {
		j--
	}
	switch strings.ToUpper(out[j:i]) {
	case "FROM", "JOIN", "INTO", "UPDATE":
		return true
	}
	return false
}

// pathRef expands a metamodel path to its alias-qualified column(s).
func (e *expansion) pathRef(v PathRef, sc *scope) error {
	entry, local, err := e.resolveRoot(v, sc)
	if err != nil {
		return err
	}
	cols, err := entry.model.GetColumns(v.Path)
	if err != nil {
		return WrapError(KindInvalidPath, err, "resolving %s", v.Path)
	}
	for i, c := range cols {
		if i > 0 {
			e.b.WriteString(", ")
		}
		alias := entry.alias
		if c.Qualifier != "" {
			joined := local.lookupVia(entry.typ, c.Qualifier)
			if joined == nil {
				return NewError(KindMissingForeignKey,
					"path %s needs a join along %q that is not in scope", v.Path, c.Qualifier)
			}
			alias = joined.alias
		}
		e.qualified(alias, c.Name)
	}
	return nil
}

// resolveRoot finds the table entry a path binds to, honoring the
// reference's alias scope. It returns the entry and the scope level it
// was found in, so qualified hops resolve against the same level.
func (e *expansion) resolveRoot(v PathRef, sc *scope) (*tableEntry, *scope, error) {
	start := sc
	if v.Scope == ScopeOuter {
		if sc.parent == nil {
			return nil, nil, NewError(KindInvalidPath, "outer reference %s outside a subquery", v.Path)
		}
		start = sc.parent
	}
	for level := start; level != nil; level = level.parent {
		entry, n := level.lookupRoot(v.Path.Root())
		if n > 1 {
			return nil, nil, NewError(KindAmbiguousAlias,
				"%d tables for %s in scope, path %s is ambiguous", n, v.Path.Root(), v.Path)
		}
		if n == 1 {
			return entry, level, nil
		}
		if v.Scope == ScopeLocal {
			break
		}
	}
	return nil, nil, NewError(KindInvalidPath, "no table for %s in scope for path %s", v.Path.Root(), v.Path)
}

// subquery lowers a builder-backed subquery and expands it in a child
// scope chained to the current one.
func (e *expansion) subquery(v SubqueryRef, sc *scope) error {
	ts, err := v.Sub.SubqueryTemplate()
	if err != nil {
		return err
	}
	child := &scope{parent: sc}
	if err := e.register(ts, child); err != nil {
		return err
	}
	return e.emit(ts, child)
}

// record expands an entity instance into a primary-key predicate on the
// record's table, binding the key values.
func (e *expansion) record(v RecordRef, sc *scope) error {
	m, err := model.InterpretValue(v.Instance)
	if err != nil {
		return WrapError(KindInvalidPath, err, "resolving record %T", v.Instance)
	}
	if !m.HasPK() {
		return NewError(KindInvalidPath, "record %T has no primary key", v.Instance)
	}
	entry, n := sc.lookupRoot(m.Type)
	if n != 1 {
		for level := sc.parent; level != nil && n == 0; level = level.parent {
			entry, n = level.lookupRoot(m.Type)
		}
	}
	if n != 1 {
		return NewError(KindInvalidPath, "no table for record %T in scope", v.Instance)
	}
	var pkCols []*model.Column
	for _, c := range m.DeclaredColumns() {
		if c.PrimaryKey {
			pkCols = append(pkCols, c)
		}
	}
	vals, err := model.Values(pkCols, v.Instance)
	if err != nil {
		return WrapError(KindTypeMismatch, err, "extracting key of %T", v.Instance)
	}
	for i, c := range pkCols {
		if i > 0 {
			e.b.WriteString(" AND ")
		}
		e.qualified(entry.alias, c.Name)
		e.b.WriteString(" = ")
		e.placeholder(vals[i])
	}
	return nil
}

func (e *expansion) qualified(alias, column string) {
	d := e.p.dialect
	e.b.WriteString(d.MaybeEscape(alias))
	e.b.WriteByte('.')
	e.b.WriteString(d.MaybeEscape(column))
}
