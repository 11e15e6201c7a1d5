package quill

import (
	"context"
	"reflect"
	"strings"

	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

type stmtKind int

const (
	selectStmt stmtKind = iota
	deleteStmt
)

type orderTerm struct {
	path model.Path
	desc bool
}

type joinKind int

const (
	innerJoin joinKind = iota
	leftOuterJoin
	rightOuterJoin
	crossJoin
)

func (k joinKind) keyword() string {
	switch k {
	case leftOuterJoin:
		return " LEFT JOIN "
	case rightOuterJoin:
		return " RIGHT JOIN "
	case crossJoin:
		return " CROSS JOIN "
	}
	return " INNER JOIN "
}

// explicitJoin is a join the caller requested, as opposed to one
// inferred from a path crossing a relationship. Its ON condition stays
// unresolved until the statement is built.
type explicitJoin struct {
	kind   joinKind
	target reflect.Type
	alias  string
	on     *sqltemplate.TemplateString
	onType reflect.Type
}

// QueryBuilder assembles a SELECT or DELETE statement for one entity
// type. Methods mutate the receiver and return it for chaining; any
// construction failure sticks to the builder and surfaces when the
// statement is built, prepared or executed. Builders are append-only
// and not safe for concurrent use.
type QueryBuilder[E any] struct {
	s     Session
	m     *model.Model
	kind  stmtKind
	err   error
	alias string

	where      *Predicate
	groupBy    []model.Path
	having     *Predicate
	orderBy    []orderTerm
	limit      int
	offset     int
	lock       sqltemplate.LockMode
	safe       bool
	projection []model.Path
	joins      []*explicitJoin
	appends    []sqltemplate.TemplateString
}

func newBuilder[E any](s Session, kind stmtKind, alias string) *QueryBuilder[E] {
	b := &QueryBuilder[E]{s: s, kind: kind, alias: alias, limit: -1, offset: -1}
	m, err := model.Of[E]()
	if err != nil {
		b.err = persistErr("resolve model", err)
		return b
	}
	b.m = m
	return b
}

// SelectFrom starts a SELECT statement over the entity type E.
func SelectFrom[E any](s Session) *QueryBuilder[E] {
	return newBuilder[E](s, selectStmt, "")
}

// SelectAs starts a SELECT statement with an explicit table alias.
func SelectAs[E any](s Session, alias string) *QueryBuilder[E] {
	return newBuilder[E](s, selectStmt, alias)
}

// DeleteFrom starts a DELETE statement over the entity type E.
func DeleteFrom[E any](s Session) *QueryBuilder[E] {
	return newBuilder[E](s, deleteStmt, "")
}

func (b *QueryBuilder[E]) fail(err error) *QueryBuilder[E] {
	if b.err == nil {
		b.err = persistErr("build", err)
	}
	return b
}

// Err returns the first construction error, if any.
func (b *QueryBuilder[E]) Err() error { return b.err }

// Where sets the statement's condition. A statement has exactly one
// WHERE; combine conditions with And/Or instead of chaining calls.
func (b *QueryBuilder[E]) Where(p Predicate) *QueryBuilder[E] {
	if b.err != nil {
		return b
	}
	if b.where != nil {
		return b.fail(sqltemplate.NewError(sqltemplate.KindChainedWhere,
			"WHERE already set, combine conditions with And/Or"))
	}
	b.where = &p
	return b
}

// JoinOn finishes a pending join by supplying its ON condition.
type JoinOn[E any] struct {
	b *QueryBuilder[E]
	j *explicitJoin
}

// On sets an explicit ON condition template for the join.
func (j *JoinOn[E]) On(ts sqltemplate.TemplateString) *QueryBuilder[E] {
	j.j.on = &ts
	return j.b
}

// OnType infers the ON condition from the declared relationship between
// the joined type and counterpart. A missing relationship surfaces when
// the statement is built, not here.
func (j *JoinOn[E]) OnType(counterpart any) *QueryBuilder[E] {
	j.j.onType = typeOf(counterpart)
	return j.b
}

// As gives the joined table an explicit alias.
func (j *JoinOn[E]) As(alias string) *JoinOn[E] {
	j.j.alias = alias
	return j
}

func typeOf(v any) reflect.Type {
	if t, ok := v.(reflect.Type); ok {
		return t
	}
	return reflect.TypeOf(v)
}

func (b *QueryBuilder[E]) join(kind joinKind, target any) *JoinOn[E] {
	j := &explicitJoin{kind: kind, target: typeOf(target)}
	b.joins = append(b.joins, j)
	return &JoinOn[E]{b: b, j: j}
}

// InnerJoin joins target, dropping root rows without a match. Pass an
// entity value or a reflect.Type.
func (b *QueryBuilder[E]) InnerJoin(target any) *JoinOn[E] {
	return b.join(innerJoin, target)
}

// LeftJoin joins target, keeping root rows without a match.
func (b *QueryBuilder[E]) LeftJoin(target any) *JoinOn[E] {
	return b.join(leftOuterJoin, target)
}

// RightJoin joins target, keeping target rows without a match.
func (b *QueryBuilder[E]) RightJoin(target any) *JoinOn[E] {
	return b.join(rightOuterJoin, target)
}

// CrossJoin joins target without a condition.
func (b *QueryBuilder[E]) CrossJoin(target any) *QueryBuilder[E] {
	b.join(crossJoin, target)
	return b
}

// GroupBy appends grouping paths.
func (b *QueryBuilder[E]) GroupBy(paths ...model.Path) *QueryBuilder[E] {
	b.groupBy = append(b.groupBy, paths...)
	return b
}

// Having sets the group condition.
func (b *QueryBuilder[E]) Having(p Predicate) *QueryBuilder[E] {
	if b.err != nil {
		return b
	}
	if b.having != nil {
		return b.fail(sqltemplate.NewError(sqltemplate.KindChainedWhere,
			"HAVING already set, combine conditions with And/Or"))
	}
	b.having = &p
	return b
}

// OrderBy appends an ascending order term.
func (b *QueryBuilder[E]) OrderBy(p model.Path) *QueryBuilder[E] {
	b.orderBy = append(b.orderBy, orderTerm{path: p})
	return b
}

// OrderByDesc appends a descending order term.
func (b *QueryBuilder[E]) OrderByDesc(p model.Path) *QueryBuilder[E] {
	b.orderBy = append(b.orderBy, orderTerm{path: p, desc: true})
	return b
}

// Limit caps the number of returned rows.
func (b *QueryBuilder[E]) Limit(n int) *QueryBuilder[E] {
	b.limit = n
	return b
}

// Offset skips the first n rows.
func (b *QueryBuilder[E]) Offset(n int) *QueryBuilder[E] {
	b.offset = n
	return b
}

// ForUpdate requests an exclusive row lock on dialects that support
// one.
func (b *QueryBuilder[E]) ForUpdate() *QueryBuilder[E] {
	b.lock = sqltemplate.LockUpdate
	return b
}

// ForShare requests a shared row lock on dialects that support one.
func (b *QueryBuilder[E]) ForShare() *QueryBuilder[E] {
	b.lock = sqltemplate.LockShare
	return b
}

// SelectPath restricts the projection to the given paths, for
// subqueries and key-only queries.
func (b *QueryBuilder[E]) SelectPath(paths ...model.Path) *QueryBuilder[E] {
	b.projection = append(b.projection, paths...)
	return b
}

// Safe lifts the builder's guards: a DELETE without a WHERE clause is
// allowed, and raw SQL may be appended. Raw text bypasses escaping and
// parameter binding, so it must be opted into explicitly.
func (b *QueryBuilder[E]) Safe() *QueryBuilder[E] {
	b.safe = true
	return b
}

// Append adds a raw template clause at the end of the statement. The
// builder must be marked Safe first.
func (b *QueryBuilder[E]) Append(ts sqltemplate.TemplateString) *QueryBuilder[E] {
	if b.err != nil {
		return b
	}
	if !b.safe {
		return b.fail(sqltemplate.NewError(sqltemplate.KindUnsafeStatement,
			"raw clause on a builder not marked Safe"))
	}
	b.appends = append(b.appends, ts)
	return b
}

// AppendSQL adds raw SQL text at the end of the statement. The builder
// must be marked Safe first.
func (b *QueryBuilder[E]) AppendSQL(sql string) *QueryBuilder[E] {
	return b.Append(sqltemplate.Raw(sql))
}

// Build lowers the builder state into a template string. Auto-joins
// for every foreign-key hop the statement touches are resolved here,
// so path errors and joins across deferred references surface at this
// point, not earlier.
func (b *QueryBuilder[E]) Build() (sqltemplate.TemplateString, error) {
	return b.buildStmt(nil)
}

func (b *QueryBuilder[E]) buildStmt(projOverride *sqltemplate.TemplateString) (sqltemplate.TemplateString, error) {
	if b.err != nil {
		return sqltemplate.TemplateString{}, b.err
	}
	pc := predicateContext{dialect: b.s.Dialect(), model: b.m, root: b.m.Type}
	var whereTS, havingTS sqltemplate.TemplateString
	if b.where != nil {
		ts, err := b.where.build(pc)
		if err != nil {
			return sqltemplate.TemplateString{}, persistErr("build", err)
		}
		whereTS = ts
	}
	if b.having != nil {
		ts, err := b.having.build(pc)
		if err != nil {
			return sqltemplate.TemplateString{}, persistErr("build", err)
		}
		havingTS = ts
	}
	var proj sqltemplate.TemplateString
	if projOverride != nil {
		proj = *projOverride
	} else {
		var perr error
		proj, perr = b.buildProjection()
		if perr != nil {
			return sqltemplate.TemplateString{}, persistErr("build", perr)
		}
	}
	groupTS, err := b.pathList(b.groupBy)
	if err != nil {
		return sqltemplate.TemplateString{}, persistErr("build", err)
	}
	orderTS, err := b.buildOrder()
	if err != nil {
		return sqltemplate.TemplateString{}, persistErr("build", err)
	}
	scanned := []sqltemplate.TemplateString{proj, whereTS, havingTS, groupTS, orderTS}
	for _, j := range b.joins {
		if j.on != nil {
			scanned = append(scanned, *j.on)
		}
	}
	scanned = append(scanned, b.appends...)
	joins, err := b.buildJoins(scanned...)
	if err != nil {
		return sqltemplate.TemplateString{}, persistErr("build", err)
	}
	d := b.s.Dialect()
	var lockHint string
	var lockAfterFrom bool
	if b.lock != sqltemplate.LockNone {
		lockHint, lockAfterFrom = d.Lock(b.lock)
	}
	var parts []sqltemplate.TemplateString
	switch b.kind {
	case selectStmt:
		parts = append(parts, sqltemplate.Raw("SELECT "))
		if frag := d.Limit(b.limit, b.offset); frag != "" && d.LimitAfterSelect() {
			parts = append(parts, sqltemplate.Raw(frag+" "))
		}
		parts = append(parts, proj, sqltemplate.Raw(" FROM "),
			sqltemplate.Wrap(sqltemplate.TableValueOf(b.m.Type, b.alias)))
		if lockHint != "" && lockAfterFrom {
			parts = append(parts, sqltemplate.Raw(" "+lockHint))
		}
		parts = append(parts, joins...)
		for _, j := range b.joins {
			ts, jerr := b.explicitJoinClause(j)
			if jerr != nil {
				return sqltemplate.TemplateString{}, persistErr("build", jerr)
			}
			parts = append(parts, ts)
		}
	case deleteStmt:
		if len(joins) > 0 || len(b.joins) > 0 {
			return sqltemplate.TemplateString{}, persistErr("build",
				sqltemplate.NewError(sqltemplate.KindInvalidPath,
					"DELETE cannot join, use a subquery condition"))
		}
		if whereTS.IsEmpty() && !b.safe {
			return sqltemplate.TemplateString{}, persistErr("build",
				sqltemplate.NewError(sqltemplate.KindUnsafeStatement,
					"DELETE without WHERE, call Safe to allow it"))
		}
		parts = append(parts, sqltemplate.Raw("DELETE FROM "),
			sqltemplate.Wrap(sqltemplate.TableValueOf(b.m.Type, "")))
	}
	if !whereTS.IsEmpty() {
		parts = append(parts, sqltemplate.Raw(" WHERE "), whereTS)
	}
	if !groupTS.IsEmpty() {
		parts = append(parts, sqltemplate.Raw(" GROUP BY "), groupTS)
	}
	if !havingTS.IsEmpty() {
		parts = append(parts, sqltemplate.Raw(" HAVING "), havingTS)
	}
	if !orderTS.IsEmpty() {
		parts = append(parts, sqltemplate.Raw(" ORDER BY "), orderTS)
	}
	if b.kind == selectStmt {
		if frag := d.Limit(b.limit, b.offset); frag != "" && !d.LimitAfterSelect() {
			parts = append(parts, sqltemplate.Raw(" "+frag))
		}
		if lockHint != "" && !lockAfterFrom {
			parts = append(parts, sqltemplate.Raw(" "+lockHint))
		}
	}
	parts = append(parts, b.appends...)
	return sqltemplate.Combine(parts...), nil
}

// buildProjection produces the select list. Without an explicit
// projection the full expanded column list of the model is selected,
// one alias-qualified reference per column, so eager relationships
// hydrate from a single row.
func (b *QueryBuilder[E]) buildProjection() (sqltemplate.TemplateString, error) {
	if b.kind != selectStmt {
		return sqltemplate.Empty, nil
	}
	if len(b.projection) > 0 {
		return b.pathList(b.projection)
	}
	cols := b.m.Columns()
	parts := make([]sqltemplate.TemplateString, 0, len(cols))
	seen := make(map[string]int)
	for _, c := range cols {
		expr := c.Field.Name
		if c.Qualifier != "" {
			expr = c.Qualifier + "." + c.Field.Name
		}
		p := model.PathOfType(b.m.Type, expr)
		if n, err := countColumns(b.m, p); err != nil {
			return sqltemplate.TemplateString{}, err
		} else if n > 1 {
			seen[expr]++
			p = p.Select(seen[expr])
		}
		parts = append(parts, sqltemplate.Wrap(sqltemplate.PathValue(p)))
	}
	return sqltemplate.JoinTemplates(", ", parts...), nil
}

func countColumns(m *model.Model, p model.Path) (int, error) {
	cols, err := m.GetColumns(p)
	if err != nil {
		return 0, err
	}
	return len(cols), nil
}

// refProjection selects only the primary-key column.
func (b *QueryBuilder[E]) refProjection() (sqltemplate.TemplateString, error) {
	if b.m.PKType() == nil {
		return sqltemplate.TemplateString{}, persistErr("build",
			sqltemplate.NewError(sqltemplate.KindInvalidPath,
				"%s has no single-column primary key", b.m.Type))
	}
	p := model.PathOfType(b.m.Type, b.m.PK()[0].Name)
	return sqltemplate.Wrap(sqltemplate.PathValue(p)), nil
}

func (b *QueryBuilder[E]) pathList(paths []model.Path) (sqltemplate.TemplateString, error) {
	if len(paths) == 0 {
		return sqltemplate.Empty, nil
	}
	parts := make([]sqltemplate.TemplateString, len(paths))
	for i, p := range paths {
		if _, err := b.m.GetColumns(p); err != nil {
			return sqltemplate.TemplateString{}, err
		}
		parts[i] = sqltemplate.Wrap(sqltemplate.PathValue(p))
	}
	return sqltemplate.JoinTemplates(", ", parts...), nil
}

func (b *QueryBuilder[E]) buildOrder() (sqltemplate.TemplateString, error) {
	if len(b.orderBy) == 0 {
		return sqltemplate.Empty, nil
	}
	parts := make([]sqltemplate.TemplateString, len(b.orderBy))
	for i, t := range b.orderBy {
		if _, err := b.m.GetSingleColumn(t.path); err != nil {
			return sqltemplate.TemplateString{}, err
		}
		ts := sqltemplate.Wrap(sqltemplate.PathValue(t.path))
		if t.desc {
			ts = sqltemplate.Combine(ts, sqltemplate.Raw(" DESC"))
		}
		parts[i] = ts
	}
	return sqltemplate.JoinTemplates(", ", parts...), nil
}

// joinSpec is one auto-join the statement needs, identified by the
// foreign-key hop path from the root.
type joinSpec struct {
	via    string
	field  *model.Field
	parent string // hop path of the joining side, "" for the root
}

// buildJoins scans the statement's templates for paths that leave the
// root table and produces the JOIN clauses for every hop, outer-first.
// A hop through a deferred reference cannot be joined automatically
// and fails the build.
func (b *QueryBuilder[E]) buildJoins(parts ...sqltemplate.TemplateString) ([]sqltemplate.TemplateString, error) {
	var (
		order []string
		specs = make(map[string]joinSpec)
	)
	var add func(qualifier string) error
	add = func(qualifier string) error {
		if qualifier == "" {
			return nil
		}
		if _, ok := specs[qualifier]; ok {
			return nil
		}
		parent := ""
		seg := qualifier
		if i := strings.LastIndexByte(qualifier, '.'); i >= 0 {
			parent, seg = qualifier[:i], qualifier[i+1:]
		}
		if err := add(parent); err != nil {
			return err
		}
		owner := b.m
		if parent != "" {
			owner = specs[parent].field.Target()
		}
		f, ok := owner.FieldByName(seg)
		if !ok || !f.IsRelation() {
			return sqltemplate.NewError(sqltemplate.KindInvalidPath,
				"no relationship %q on %s", seg, owner.Type)
		}
		if f.Lazy {
			return sqltemplate.NewError(sqltemplate.KindMissingForeignKey,
				"cannot auto-join %q on %s through a deferred reference", qualifier, b.m.Type)
		}
		specs[qualifier] = joinSpec{via: qualifier, field: f, parent: parent}
		order = append(order, qualifier)
		return nil
	}
	for _, ts := range parts {
		if err := b.scanPaths(ts, add); err != nil {
			return nil, err
		}
	}
	joins := make([]sqltemplate.TemplateString, 0, len(order))
	for _, via := range order {
		ts, err := b.joinClause(specs[via])
		if err != nil {
			return nil, err
		}
		joins = append(joins, ts)
	}
	return joins, nil
}

// scanPaths visits every path reference rooted at the builder's entity
// inside a template, descending into nested templates and into
// subqueries for outer-scope references.
func (b *QueryBuilder[E]) scanPaths(ts sqltemplate.TemplateString, add func(string) error) error {
	for _, v := range ts.Values() {
		switch v := v.(type) {
		case sqltemplate.PathRef:
			if v.Path.Root() != b.m.Type {
				continue
			}
			cols, err := b.m.GetColumns(v.Path)
			if err != nil {
				return err
			}
			for _, c := range cols {
				if err := add(c.Qualifier); err != nil {
					return err
				}
			}
		case sqltemplate.NestedRef:
			if err := b.scanPaths(v.TS, add); err != nil {
				return err
			}
		case sqltemplate.SubqueryRef:
			sub, err := v.Sub.SubqueryTemplate()
			if err != nil {
				return err
			}
			if err := b.scanOuterPaths(sub, add); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *QueryBuilder[E]) scanOuterPaths(ts sqltemplate.TemplateString, add func(string) error) error {
	for _, v := range ts.Values() {
		switch v := v.(type) {
		case sqltemplate.PathRef:
			if v.Scope != sqltemplate.ScopeOuter || v.Path.Root() != b.m.Type {
				continue
			}
			cols, err := b.m.GetColumns(v.Path)
			if err != nil {
				return err
			}
			for _, c := range cols {
				if err := add(c.Qualifier); err != nil {
					return err
				}
			}
		case sqltemplate.NestedRef:
			if err := b.scanOuterPaths(v.TS, add); err != nil {
				return err
			}
		}
	}
	return nil
}

// joinClause emits one JOIN, pairing the parent's join-key column(s)
// with the target's primary key. Nullable hops join LEFT so missing
// references do not drop the root row.
func (b *QueryBuilder[E]) joinClause(spec joinSpec) (sqltemplate.TemplateString, error) {
	target := spec.field.Target()
	kw := " JOIN "
	if spec.field.Nullable {
		kw = " LEFT JOIN "
	}
	pk := target.PK()
	if len(pk) == 0 {
		return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindMissingForeignKey,
			"cannot join %s, it has no primary key", target.Type)
	}
	jkPath := model.PathOfType(b.m.Type, spec.via)
	pairs := make([]sqltemplate.TemplateString, len(pk))
	for i, p := range pk {
		parentSide := jkPath
		if len(pk) > 1 {
			parentSide = jkPath.Select(i + 1)
		}
		childSide := model.PathOfType(b.m.Type, spec.via+"."+p.Name)
		pairs[i] = sqltemplate.MustNew(
			[]string{"", " = ", ""},
			[]sqltemplate.Value{sqltemplate.PathValue(parentSide), sqltemplate.PathValue(childSide)},
		)
	}
	return sqltemplate.Combine(
		sqltemplate.Raw(kw),
		sqltemplate.Wrap(sqltemplate.JoinedTableValue(target.Type, b.m.Type, spec.via)),
		sqltemplate.Raw(" ON "),
		sqltemplate.JoinTemplates(" AND ", pairs...),
	), nil
}

// explicitJoinClause emits one caller-requested JOIN. An OnType join
// resolves the relationship here, so a missing foreign key between the
// two types surfaces at build time rather than when the join was added.
func (b *QueryBuilder[E]) explicitJoinClause(j *explicitJoin) (sqltemplate.TemplateString, error) {
	table := sqltemplate.Wrap(sqltemplate.TableValueOf(j.target, j.alias))
	if j.kind == crossJoin {
		return sqltemplate.Combine(sqltemplate.Raw(j.kind.keyword()), table), nil
	}
	var cond sqltemplate.TemplateString
	switch {
	case j.on != nil:
		cond = *j.on
	case j.onType != nil:
		ts, err := inferJoinCondition(j.target, j.onType)
		if err != nil {
			return sqltemplate.TemplateString{}, err
		}
		cond = ts
	default:
		return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindMalformed,
			"join on %s has no ON condition", j.target)
	}
	return sqltemplate.Combine(
		sqltemplate.Raw(j.kind.keyword()), table, sqltemplate.Raw(" ON "), cond,
	), nil
}

// inferJoinCondition pairs the declared foreign key between the two
// types, in either direction, with the referenced primary key.
func inferJoinCondition(a, c reflect.Type) (sqltemplate.TemplateString, error) {
	am, err := model.Interpret(a)
	if err != nil {
		return sqltemplate.TemplateString{}, err
	}
	cm, err := model.Interpret(c)
	if err != nil {
		return sqltemplate.TemplateString{}, err
	}
	owner, f, err := model.RelationBetween(am, cm)
	if err != nil {
		return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindMissingForeignKey,
			"cannot infer a join between %s and %s: %v", a, c, err)
	}
	if f.Lazy {
		return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindMissingForeignKey,
			"cannot auto-join %s through a deferred reference", f.Name)
	}
	target := cm
	if owner == cm {
		target = am
	}
	return joinKeyCondition(owner, f, target)
}

func joinKeyCondition(owner *model.Model, f *model.Field, target *model.Model) (sqltemplate.TemplateString, error) {
	pk := target.PK()
	if len(pk) == 0 {
		return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindMissingForeignKey,
			"cannot join %s, it has no primary key", target.Type)
	}
	jkPath := model.PathOfType(owner.Type, f.Name)
	pairs := make([]sqltemplate.TemplateString, len(pk))
	for i, p := range pk {
		ownerSide := jkPath
		if len(pk) > 1 {
			ownerSide = jkPath.Select(i + 1)
		}
		targetSide := model.PathOfType(target.Type, p.Name)
		pairs[i] = sqltemplate.MustNew(
			[]string{"", " = ", ""},
			[]sqltemplate.Value{sqltemplate.PathValue(ownerSide), sqltemplate.PathValue(targetSide)},
		)
	}
	return sqltemplate.JoinTemplates(" AND ", pairs...), nil
}

// SubqueryTemplate implements sqltemplate.Subquery. Subqueries without
// an explicit projection select their primary key.
func (b *QueryBuilder[E]) SubqueryTemplate() (sqltemplate.TemplateString, error) {
	if len(b.projection) == 0 {
		if b.m == nil {
			return sqltemplate.TemplateString{}, b.err
		}
		if b.m.PKType() == nil {
			return sqltemplate.TemplateString{}, sqltemplate.NewError(sqltemplate.KindInvalidPath,
				"subquery over %s needs an explicit projection", b.m.Type)
		}
		b.projection = []model.Path{model.PathOfType(b.m.Type, b.m.PK()[0].Name)}
	}
	return b.Build()
}

// SubqueryType implements sqltemplate.Subquery.
func (b *QueryBuilder[E]) SubqueryType() reflect.Type {
	if b.m == nil {
		return nil
	}
	return b.m.Type
}

// Query finalizes the builder into an executable query.
func (b *QueryBuilder[E]) Query() *Query[E] {
	q := &Query[E]{s: b.s, m: b.m, label: label(b.m)}
	if b.kind != selectStmt {
		q.err = persistErr("build", sqltemplate.NewError(sqltemplate.KindMalformed,
			"Query on a DELETE builder, use ExecuteUpdate"))
		return q
	}
	if len(b.projection) > 0 {
		q.err = persistErr("build", sqltemplate.NewError(sqltemplate.KindMalformed,
			"Query with an explicit projection cannot hydrate entities"))
		return q
	}
	q.ts, q.err = b.Build()
	return q
}

// QueryAs finalizes a SELECT builder into a query hydrating the
// projection type R instead of the entity type. Without a custom
// projection template, R's declared fields are resolved as paths on the
// builder's entity; invalid paths surface when the statement expands.
func QueryAs[R any, E any](b *QueryBuilder[E], proj ...sqltemplate.TemplateString) *Query[R] {
	q := &Query[R]{s: b.s, label: label(b.m)}
	rm, err := model.Of[R]()
	if err != nil {
		q.err = persistErr("resolve model", err)
		return q
	}
	q.m = rm
	if b.err != nil {
		q.err = b.err
		return q
	}
	if b.kind != selectStmt {
		q.err = persistErr("build", sqltemplate.NewError(sqltemplate.KindMalformed,
			"projection on a DELETE builder"))
		return q
	}
	var projTS sqltemplate.TemplateString
	switch len(proj) {
	case 0:
		cols := rm.Columns()
		parts := make([]sqltemplate.TemplateString, 0, len(cols))
		for _, c := range cols {
			expr := c.Field.Name
			if c.Qualifier != "" {
				expr = c.Qualifier + "." + c.Field.Name
			}
			p := model.PathOfType(b.m.Type, expr)
			parts = append(parts, sqltemplate.Wrap(sqltemplate.PathValue(p)))
		}
		projTS = sqltemplate.JoinTemplates(", ", parts...)
	case 1:
		projTS = proj[0]
	default:
		q.err = persistErr("build", sqltemplate.NewError(sqltemplate.KindMalformed,
			"at most one projection template"))
		return q
	}
	q.ts, q.err = b.buildStmt(&projTS)
	return q
}

// Prepare expands the statement once for reuse. SELECT builders keep
// streaming entities; DELETE builders batch parameter sets through
// ExecuteBatch.
func (b *QueryBuilder[E]) Prepare(ctx context.Context) (*PreparedQuery[E], error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.kind == selectStmt && len(b.projection) > 0 {
		return nil, persistErr("build", sqltemplate.NewError(sqltemplate.KindMalformed,
			"Prepare with an explicit projection cannot hydrate entities"))
	}
	ts, err := b.Build()
	if err != nil {
		return nil, err
	}
	stmt, err := expand(ctx, b.s, ts)
	if err != nil {
		return nil, err
	}
	return &PreparedQuery[E]{s: b.s, m: b.m, stmt: stmt, label: label(b.m)}, nil
}

// Count executes SELECT COUNT(*) over the builder's condition,
// ignoring ordering, limits and projection.
func (b *QueryBuilder[E]) Count(ctx context.Context) (int64, error) {
	cb := *b
	cb.orderBy = nil
	cb.limit, cb.offset = -1, -1
	cb.lock = sqltemplate.LockNone
	cb.projection = nil
	countProj := sqltemplate.Raw("COUNT(*)")
	ts, err := cb.buildStmt(&countProj)
	if err != nil {
		return 0, err
	}
	return queryScalarInt(ctx, b.s, ts)
}

// RefList executes a key-only query and returns deferred references.
func (b *QueryBuilder[E]) RefList(ctx context.Context) ([]model.Ref[E], error) {
	ts, err := b.refTemplate()
	if err != nil {
		return nil, err
	}
	stream, err := refStream[E](ctx, b.s, ts, label(b.m))
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return streamAll(stream)
}

// RefStream executes a key-only query and streams deferred references.
func (b *QueryBuilder[E]) RefStream(ctx context.Context) (*Stream[model.Ref[E]], error) {
	ts, err := b.refTemplate()
	if err != nil {
		return nil, err
	}
	return refStream[E](ctx, b.s, ts, label(b.m))
}

func (b *QueryBuilder[E]) refTemplate() (sqltemplate.TemplateString, error) {
	if b.err != nil {
		return sqltemplate.TemplateString{}, b.err
	}
	proj, err := b.refProjection()
	if err != nil {
		return sqltemplate.TemplateString{}, err
	}
	return b.buildStmt(&proj)
}

// ExecuteUpdate executes a DELETE builder and returns the affected row
// count.
func (b *QueryBuilder[E]) ExecuteUpdate(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.kind != deleteStmt {
		return 0, persistErr("execute", sqltemplate.NewError(sqltemplate.KindMalformed,
			"ExecuteUpdate on a SELECT builder"))
	}
	ts, err := b.Build()
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, b.s, ts)
}

func label(m *model.Model) string {
	if m == nil {
		return "?"
	}
	return m.Table
}
