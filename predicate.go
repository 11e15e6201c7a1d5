package quill

import (
	"reflect"

	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

// Predicate is a deferred condition fragment. Lowering to a template is
// dialect-dependent (multi-column IN needs a rewrite on dialects
// without row-value support), so it happens when the statement is
// built.
type Predicate struct {
	build func(pc predicateContext) (sqltemplate.TemplateString, error)
}

// predicateContext is what lowering needs from the enclosing builder.
type predicateContext struct {
	dialect sqltemplate.Dialect
	model   *model.Model
	root    reflect.Type
	outer   bool // condition binds paths to the enclosing query's scope
}

func (pc predicateContext) pathValue(p model.Path) sqltemplate.Value {
	if pc.outer {
		return sqltemplate.OuterPathValue(p)
	}
	return sqltemplate.PathValue(p)
}

// columns resolves a path against the root model.
func (pc predicateContext) columns(p model.Path) ([]*model.Column, error) {
	return pc.model.GetColumns(p)
}

func predicateOf(build func(pc predicateContext) (sqltemplate.TemplateString, error)) Predicate {
	return Predicate{build: build}
}

// comparison lowers `path op value`. Entity and Ref values compare by
// their referenced key; multi-column paths with composite operands
// lower to a conjunction.
func comparison(op string, p model.Path, v any) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		cols, err := pc.columns(p)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		vals, err := operandValues(cols, v)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		parts := make([]sqltemplate.TemplateString, len(cols))
		for i := range cols {
			parts[i] = sqltemplate.MustNew(
				[]string{"", " "+op+" ", ""},
				[]sqltemplate.Value{pc.pathValue(columnPath(p, i, len(cols))), sqltemplate.ParamValue(vals[i])},
			)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return group(sqltemplate.JoinTemplates(" AND ", parts...)), nil
	})
}

// columnPath returns a path value selecting one column of a
// multi-column path.
func columnPath(p model.Path, i, n int) model.Path {
	if n == 1 {
		return p
	}
	return p.Select(i + 1)
}

// operandValues aligns an operand with the columns it compares
// against: entity instances and deferred references unwrap to their
// key values, scalars pass through.
func operandValues(cols []*model.Column, v any) ([]any, error) {
	if len(cols) == 1 && !cols[0].IsJoinKey() {
		return []any{v}, nil
	}
	// Comparing against a relationship: accept the referenced entity,
	// a deferred reference, or the bare key value(s).
	if key, ok := model.KeyOf(v); ok {
		if len(cols) != 1 {
			return nil, sqltemplate.NewError(sqltemplate.KindTypeMismatch,
				"deferred reference operand against %d columns", len(cols))
		}
		return []any{key}, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct && cols[0].IsJoinKey() {
		if m, err := model.InterpretValue(v); err == nil && m.HasPK() {
			var pkCols []*model.Column
			for _, c := range m.DeclaredColumns() {
				if c.PrimaryKey {
					pkCols = append(pkCols, c)
				}
			}
			if len(pkCols) == len(cols) {
				return model.Values(pkCols, v)
			}
		}
	}
	if len(cols) == 1 {
		return []any{v}, nil
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() != len(cols) {
			return nil, sqltemplate.NewError(sqltemplate.KindTypeMismatch,
				"operand has %d values for %d columns", rv.Len(), len(cols))
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, sqltemplate.NewError(sqltemplate.KindTypeMismatch,
		"operand %T cannot be compared against %d columns", v, len(cols))
}

// Eq compares a path for equality. An empty collection operand is a
// construction error: equality against nothing is almost always a bug,
// unlike membership tests which have a defined degenerate meaning.
func Eq(p model.Path, v any) Predicate {
	if isEmptyCollection(v) {
		return failed(sqltemplate.NewError(sqltemplate.KindEmptyCollection,
			"EQ %s against an empty collection", p))
	}
	return comparison("=", p, v)
}

// Neq compares a path for inequality. An empty collection operand is a
// construction error.
func Neq(p model.Path, v any) Predicate {
	if isEmptyCollection(v) {
		return failed(sqltemplate.NewError(sqltemplate.KindEmptyCollection,
			"NEQ %s against an empty collection", p))
	}
	return comparison("<>", p, v)
}

// Gt compares a path with >.
func Gt(p model.Path, v any) Predicate { return comparison(">", p, v) }

// Gte compares a path with >=.
func Gte(p model.Path, v any) Predicate { return comparison(">=", p, v) }

// Lt compares a path with <.
func Lt(p model.Path, v any) Predicate { return comparison("<", p, v) }

// Lte compares a path with <=.
func Lte(p model.Path, v any) Predicate { return comparison("<=", p, v) }

// Like compares a single-column path against an SQL pattern.
func Like(p model.Path, pattern string) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		if _, err := singleColumn(pc, p); err != nil {
			return sqltemplate.TemplateString{}, err
		}
		return sqltemplate.MustNew(
			[]string{"", " LIKE ", ""},
			[]sqltemplate.Value{pc.pathValue(p), sqltemplate.ParamValue(pattern)},
		), nil
	})
}

// Between matches rows whose single-column path value lies in the
// inclusive range [lo, hi].
func Between(p model.Path, lo, hi any) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		col, err := singleColumn(pc, p)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		return sqltemplate.MustNew(
			[]string{"", " BETWEEN ", " AND ", ""},
			[]sqltemplate.Value{
				pc.pathValue(p),
				sqltemplate.ParamValue(unwrapOperand(col, lo)),
				sqltemplate.ParamValue(unwrapOperand(col, hi)),
			},
		), nil
	})
}

// IsNull matches rows where the path is NULL.
func IsNull(p model.Path) Predicate {
	return nullCheck(p, " IS NULL")
}

// NotNull matches rows where the path is not NULL.
func NotNull(p model.Path) Predicate {
	return nullCheck(p, " IS NOT NULL")
}

func nullCheck(p model.Path, suffix string) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		cols, err := pc.columns(p)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		parts := make([]sqltemplate.TemplateString, len(cols))
		for i := range cols {
			parts[i] = sqltemplate.MustNew(
				[]string{"", suffix},
				[]sqltemplate.Value{pc.pathValue(columnPath(p, i, len(cols)))},
			)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return group(sqltemplate.JoinTemplates(" AND ", parts...)), nil
	})
}

// In matches rows whose path value is a member of the given
// collection. An empty collection matches nothing.
func In(p model.Path, vs ...any) Predicate {
	return membership(p, vs, false)
}

// NotIn matches rows whose path value is not a member of the given
// collection. An empty collection matches everything.
func NotIn(p model.Path, vs ...any) Predicate {
	return membership(p, vs, true)
}

func membership(p model.Path, vs []any, negate bool) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		if len(vs) == 0 {
			// Degenerate membership has a defined meaning: IN () holds
			// for no row, NOT IN () for every row.
			if negate {
				return sqltemplate.Raw("1 = 1"), nil
			}
			return sqltemplate.Raw("1 <> 1"), nil
		}
		cols, err := pc.columns(p)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		if len(cols) > 1 {
			return tupleMembership(pc, p, cols, vs, negate)
		}
		op := " IN ("
		if negate {
			op = " NOT IN ("
		}
		fragments := make([]string, 0, len(vs)+2)
		values := make([]sqltemplate.Value, 0, len(vs)+1)
		fragments = append(fragments, "")
		values = append(values, pc.pathValue(p))
		for i, v := range vs {
			sep := ", "
			if i == 0 {
				sep = op
			}
			fragments = append(fragments, sep)
			values = append(values, sqltemplate.ParamValue(unwrapOperand(cols[0], v)))
		}
		fragments = append(fragments, ")")
		return sqltemplate.MustNew(fragments, values), nil
	})
}

// tupleMembership lowers multi-column membership. Dialects with
// row-value support get `(a, b) IN ((?, ?), ...)`; the rest get a
// disjunction of per-member conjunctions.
func tupleMembership(pc predicateContext, p model.Path, cols []*model.Column, vs []any, negate bool) (sqltemplate.TemplateString, error) {
	members := make([][]any, len(vs))
	for i, v := range vs {
		vals, err := operandValues(cols, v)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		members[i] = vals
	}
	if pc.dialect.SupportsMultiValueTuples() {
		return rowValueIn(pc, p, cols, members, negate)
	}
	alts := make([]sqltemplate.TemplateString, len(members))
	for i, vals := range members {
		pairs := make([]sqltemplate.TemplateString, len(cols))
		for j := range cols {
			pairs[j] = sqltemplate.MustNew(
				[]string{"", " = ", ""},
				[]sqltemplate.Value{pc.pathValue(columnPath(p, j, len(cols))), sqltemplate.ParamValue(vals[j])},
			)
		}
		alts[i] = group(sqltemplate.JoinTemplates(" AND ", pairs...))
	}
	ts := group(sqltemplate.JoinTemplates(" OR ", alts...))
	if negate {
		ts = sqltemplate.Combine(sqltemplate.Raw("NOT "), ts)
	}
	return ts, nil
}

func rowValueIn(pc predicateContext, p model.Path, cols []*model.Column, members [][]any, negate bool) (sqltemplate.TemplateString, error) {
	var parts []sqltemplate.TemplateString
	colRefs := make([]sqltemplate.TemplateString, len(cols))
	for i := range cols {
		colRefs[i] = sqltemplate.Wrap(pc.pathValue(columnPath(p, i, len(cols))))
	}
	parts = append(parts, group(sqltemplate.JoinTemplates(", ", colRefs...)))
	op := " IN ("
	if negate {
		op = " NOT IN ("
	}
	parts = append(parts, sqltemplate.Raw(op))
	for i, vals := range members {
		if i > 0 {
			parts = append(parts, sqltemplate.Raw(", "))
		}
		binds := make([]sqltemplate.TemplateString, len(vals))
		for j, v := range vals {
			binds[j] = sqltemplate.Wrap(sqltemplate.ParamValue(v))
		}
		parts = append(parts, group(sqltemplate.JoinTemplates(", ", binds...)))
	}
	parts = append(parts, sqltemplate.Raw(")"))
	return sqltemplate.Combine(parts...), nil
}

// InSubquery matches rows whose path value is returned by the
// subquery.
func InSubquery(p model.Path, sub sqltemplate.Subquery) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		if _, err := pc.columns(p); err != nil {
			return sqltemplate.TemplateString{}, err
		}
		return sqltemplate.MustNew(
			[]string{"", " IN (", ")"},
			[]sqltemplate.Value{pc.pathValue(p), sqltemplate.SubqueryValue(sub)},
		), nil
	})
}

// Exists matches rows for which the subquery returns at least one row.
func Exists(sub sqltemplate.Subquery) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		return sqltemplate.MustNew(
			[]string{"EXISTS (", ")"},
			[]sqltemplate.Value{sqltemplate.SubqueryValue(sub)},
		), nil
	})
}

// NotExists matches rows for which the subquery returns no rows.
func NotExists(sub sqltemplate.Subquery) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		return sqltemplate.MustNew(
			[]string{"NOT EXISTS (", ")"},
			[]sqltemplate.Value{sqltemplate.SubqueryValue(sub)},
		), nil
	})
}

// Matches matches the row identified by an entity instance's primary
// key.
func Matches(instance any) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		return sqltemplate.Wrap(sqltemplate.RecordValue(instance)), nil
	})
}

// And combines predicates conjunctively. And of nothing is always
// true.
func And(ps ...Predicate) Predicate {
	return combinepreds(" AND ", "1 = 1", ps)
}

// Or combines predicates disjunctively. Or of nothing is always false.
func Or(ps ...Predicate) Predicate {
	return combinepreds(" OR ", "1 <> 1", ps)
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		ts, err := p.build(pc)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		return sqltemplate.Combine(sqltemplate.Raw("NOT "), group(ts)), nil
	})
}

// Cond wraps a raw template string as a predicate, for clauses the
// combinators do not cover.
func Cond(ts sqltemplate.TemplateString) Predicate {
	return predicateOf(func(predicateContext) (sqltemplate.TemplateString, error) {
		return ts, nil
	})
}

func combinepreds(sep, empty string, ps []Predicate) Predicate {
	return predicateOf(func(pc predicateContext) (sqltemplate.TemplateString, error) {
		switch len(ps) {
		case 0:
			return sqltemplate.Raw(empty), nil
		case 1:
			return ps[0].build(pc)
		}
		parts := make([]sqltemplate.TemplateString, len(ps))
		for i, p := range ps {
			ts, err := p.build(pc)
			if err != nil {
				return sqltemplate.TemplateString{}, err
			}
			parts[i] = group(ts)
		}
		return sqltemplate.JoinTemplates(sep, parts...), nil
	})
}

func failed(err error) Predicate {
	return predicateOf(func(predicateContext) (sqltemplate.TemplateString, error) {
		return sqltemplate.TemplateString{}, err
	})
}

func group(ts sqltemplate.TemplateString) sqltemplate.TemplateString {
	return sqltemplate.Combine(sqltemplate.Raw("("), ts, sqltemplate.Raw(")"))
}

func singleColumn(pc predicateContext, p model.Path) (*model.Column, error) {
	return pc.model.GetSingleColumn(p)
}

// unwrapOperand converts a membership operand to the bound value for a
// single-column path: entities and references unwrap to their key.
func unwrapOperand(col *model.Column, v any) any {
	if !col.IsJoinKey() {
		return v
	}
	vals, err := operandValues([]*model.Column{col}, v)
	if err != nil || len(vals) != 1 {
		return v
	}
	return vals[0]
}

// isEmptyCollection reports whether v is a slice, array or map with no
// elements.
func isEmptyCollection(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
