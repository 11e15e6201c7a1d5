package quill

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/quill/dialect"
	qsql "github.com/syssam/quill/dialect/sql"
	"github.com/syssam/quill/dirty"
	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

// Repository provides keyed CRUD over one entity type: loading by
// primary key, inserts with generated-key readback, dirty-checked
// updates and version-guarded deletes. Query-shaped access goes
// through SelectFrom instead.
type Repository[E any] struct {
	s Session
	m *model.Model
}

// NewRepository builds a repository for the entity type E. The type
// must declare a primary key.
func NewRepository[E any](s Session) (*Repository[E], error) {
	m, err := model.Of[E]()
	if err != nil {
		return nil, persistErr("resolve model", err)
	}
	if !m.HasPK() {
		return nil, persistErr("resolve model",
			fmt.Errorf("%s declares no primary key", m.Type))
	}
	return &Repository[E]{s: s, m: m}, nil
}

// MustRepository is like NewRepository but panics on a mapping error.
func MustRepository[E any](s Session) *Repository[E] {
	r, err := NewRepository[E](s)
	if err != nil {
		panic(err)
	}
	return r
}

// Model returns the repository's entity mapping.
func (r *Repository[E]) Model() *model.Model { return r.m }

// Find loads an entity by its primary key, returning nil when no row
// matches.
func (r *Repository[E]) Find(ctx context.Context, id any) (*E, error) {
	q, err := r.byID(id)
	if err != nil {
		return nil, err
	}
	return q.GetOptionalResult(ctx)
}

// Get loads an entity by its primary key, failing with a
// NoResultError when no row matches.
func (r *Repository[E]) Get(ctx context.Context, id any) (*E, error) {
	q, err := r.byID(id)
	if err != nil {
		return nil, err
	}
	return q.GetSingleResult(ctx)
}

// Resolve loads the entity a deferred reference points at.
func (r *Repository[E]) Resolve(ctx context.Context, ref model.Ref[E]) (*E, error) {
	if ref.IsNil() {
		return nil, nil
	}
	return r.Find(ctx, ref.Key)
}

// FindAll loads every row of the entity's table.
func (r *Repository[E]) FindAll(ctx context.Context) ([]*E, error) {
	return SelectFrom[E](r.s).Query().GetResultList(ctx)
}

// ExistsByID reports whether a row with the given primary key exists.
func (r *Repository[E]) ExistsByID(ctx context.Context, id any) (bool, error) {
	pk := r.m.PK()
	if len(pk) != 1 {
		return false, persistErr("exists", fmt.Errorf("%s has a composite key, use a query", r.m.Type))
	}
	p := model.PathOfType(r.m.Type, pk[0].Name)
	n, err := SelectFrom[E](r.s).Where(Eq(p, id)).Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of rows in the entity's table.
func (r *Repository[E]) Count(ctx context.Context) (int64, error) {
	return SelectFrom[E](r.s).Count(ctx)
}

// Select starts a query builder over the entity type, bound to the
// repository's session.
func (r *Repository[E]) Select() *QueryBuilder[E] {
	return SelectFrom[E](r.s)
}

func (r *Repository[E]) byID(id any) (*Query[E], error) {
	pk := r.m.PK()
	if len(pk) != 1 {
		return nil, persistErr("find", fmt.Errorf("%s has a composite key, use a query", r.m.Type))
	}
	p := model.PathOfType(r.m.Type, pk[0].Name)
	return SelectFrom[E](r.s).Where(Eq(p, id)).Query(), nil
}

// Insert writes a new row for the entity. Database-generated keys are
// read back onto the instance; an integer version field starting at
// zero is initialized to one before the write.
func (r *Repository[E]) Insert(ctx context.Context, e *E) error {
	if e == nil {
		return persistErr("insert", fmt.Errorf("nil entity"))
	}
	if vf := r.m.VersionField(); vf != nil {
		initVersion(reflect.ValueOf(e).Elem(), vf)
	}
	cols := r.insertColumns()
	vals, err := model.Values(cols, e)
	if err != nil {
		return persistErr("insert", err)
	}
	d := r.s.Dialect()
	auto := r.autoPK()
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		var sb strings.Builder
		sb.WriteString("INSERT INTO ")
		sb.WriteString(ins(sqltemplate.TableValueOf(r.m.Type, "")))
		sb.WriteString(" (")
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.MaybeEscape(c.Name))
		}
		sb.WriteString(") VALUES (")
		for i, v := range vals {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(ins(sqltemplate.ParamValue(v)))
		}
		sb.WriteString(")")
		if auto != nil && supportsReturning(d) {
			sb.WriteString(" RETURNING ")
			sb.WriteString(d.MaybeEscape(auto.Column))
		}
		return sb.String()
	})
	if err != nil {
		return persistErr("insert", err)
	}
	stmt, err := expand(ctx, r.s, ts)
	if err != nil {
		return err
	}
	switch {
	case auto != nil && supportsReturning(d):
		var rows qsql.Rows
		if err := r.s.exec().Query(ctx, stmt.Statement, stmt.Params, &rows); err != nil {
			return persistErr("insert", err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return persistErr("insert", err)
			}
			return persistErr("insert", fmt.Errorf("no generated key returned"))
		}
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return persistErr("insert", err)
		}
		return r.setPK(e, raw)
	case auto != nil:
		var res sql.Result
		if err := r.s.exec().Exec(ctx, stmt.Statement, stmt.Params, &res); err != nil {
			return persistErr("insert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return persistErr("insert", err)
		}
		return r.setPK(e, id)
	default:
		if err := r.s.exec().Exec(ctx, stmt.Statement, stmt.Params, nil); err != nil {
			return persistErr("insert", err)
		}
		return nil
	}
}

// InsertAll writes every entity in order, inside the caller's session.
func (r *Repository[E]) InsertAll(ctx context.Context, es []*E) error {
	for _, e := range es {
		if err := r.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Update writes the entity's changes. Under the entity and field
// update modes the stored row is loaded first as the dirty-check
// baseline; with nothing changed, no statement runs. A version field
// guards the write: zero affected rows fail with an
// OptimisticLockError.
func (r *Repository[E]) Update(ctx context.Context, e *E) error {
	if e == nil {
		return persistErr("update", fmt.Errorf("nil entity"))
	}
	mode := r.s.settings().UpdateMode
	var baseline *E
	if mode != dirty.UpdateOff {
		id, err := model.PKValue(r.m, e)
		if err != nil {
			return persistErr("update", err)
		}
		baseline, err = r.Find(ctx, id)
		if err != nil {
			return err
		}
	}
	return r.UpdateFrom(ctx, baseline, e)
}

// UpdateFrom writes the difference between an explicit baseline
// snapshot and the current state. A nil baseline writes every column.
func (r *Repository[E]) UpdateFrom(ctx context.Context, baseline, e *E) error {
	mode := r.s.settings().UpdateMode
	var (
		cols []*model.Column
		err  error
	)
	switch {
	case mode == dirty.UpdateOff || baseline == nil:
		cols = r.updateColumns(r.m.DeclaredColumns())
	default:
		changed, derr := dirty.FieldsChanged(r.m, r.s.settings().DirtyStrategy, baseline, e)
		if derr != nil {
			return persistErr("update", derr)
		}
		if len(changed) == 0 {
			return nil
		}
		if mode == dirty.UpdateEntity {
			cols = r.updateColumns(r.m.DeclaredColumns())
		} else {
			cols = r.updateColumns(changed)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	id, err := model.PKValue(r.m, e)
	if err != nil {
		return persistErr("update", err)
	}
	vf := r.m.VersionField()
	var oldVersion any
	if vf != nil {
		src := e
		if baseline != nil {
			src = baseline
		}
		oldVersion = reflect.ValueOf(src).Elem().FieldByIndex(vf.Index).Interface()
		bumpVersion(reflect.ValueOf(e).Elem(), vf, oldVersion)
		cols = ensureVersionColumn(cols, r.m)
	}
	vals, err := model.Values(cols, e)
	if err != nil {
		return persistErr("update", err)
	}
	d := r.s.Dialect()
	pk := r.m.PK()
	if len(pk) != 1 {
		return persistErr("update", fmt.Errorf("%s has a composite key, use a query", r.m.Type))
	}
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		var sb strings.Builder
		sb.WriteString("UPDATE ")
		sb.WriteString(ins(sqltemplate.TableValueOf(r.m.Type, "")))
		sb.WriteString(" SET ")
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.MaybeEscape(c.Name))
			sb.WriteString(" = ")
			sb.WriteString(ins(sqltemplate.ParamValue(vals[i])))
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(d.MaybeEscape(pk[0].Column))
		sb.WriteString(" = ")
		sb.WriteString(ins(sqltemplate.ParamValue(id)))
		if vf != nil {
			sb.WriteString(" AND ")
			sb.WriteString(d.MaybeEscape(vf.Column))
			sb.WriteString(" = ")
			sb.WriteString(ins(sqltemplate.ParamValue(oldVersion)))
		}
		return sb.String()
	})
	if err != nil {
		return persistErr("update", err)
	}
	n, err := execAffected(ctx, r.s, ts)
	if err != nil {
		return err
	}
	if n == 0 {
		if vf != nil {
			return &OptimisticLockError{label: r.m.Table, id: id, version: oldVersion}
		}
		return &NoResultError{label: r.m.Table}
	}
	return nil
}

// Delete removes the entity's row, guarded by its version field when
// one is declared.
func (r *Repository[E]) Delete(ctx context.Context, e *E) error {
	if e == nil {
		return persistErr("delete", fmt.Errorf("nil entity"))
	}
	id, err := model.PKValue(r.m, e)
	if err != nil {
		return persistErr("delete", err)
	}
	vf := r.m.VersionField()
	var version any
	if vf != nil {
		version = reflect.ValueOf(e).Elem().FieldByIndex(vf.Index).Interface()
	}
	d := r.s.Dialect()
	pk := r.m.PK()
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		var sb strings.Builder
		sb.WriteString("DELETE FROM ")
		sb.WriteString(ins(sqltemplate.TableValueOf(r.m.Type, "")))
		sb.WriteString(" WHERE ")
		sb.WriteString(d.MaybeEscape(pk[0].Column))
		sb.WriteString(" = ")
		sb.WriteString(ins(sqltemplate.ParamValue(id)))
		if vf != nil {
			sb.WriteString(" AND ")
			sb.WriteString(d.MaybeEscape(vf.Column))
			sb.WriteString(" = ")
			sb.WriteString(ins(sqltemplate.ParamValue(version)))
		}
		return sb.String()
	})
	if err != nil {
		return persistErr("delete", err)
	}
	n, err := execAffected(ctx, r.s, ts)
	if err != nil {
		return err
	}
	if n == 0 {
		if vf != nil {
			return &OptimisticLockError{label: r.m.Table, id: id, version: version}
		}
		return &NoResultError{label: r.m.Table}
	}
	return nil
}

// DeleteByID removes a row by primary key, reporting whether one
// existed.
func (r *Repository[E]) DeleteByID(ctx context.Context, id any) (bool, error) {
	pk := r.m.PK()
	if len(pk) != 1 {
		return false, persistErr("delete", fmt.Errorf("%s has a composite key, use a query", r.m.Type))
	}
	p := model.PathOfType(r.m.Type, pk[0].Name)
	n, err := DeleteFrom[E](r.s).Where(Eq(p, id)).ExecuteUpdate(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteAll removes every row of the entity's table and returns the
// number of deleted rows.
func (r *Repository[E]) DeleteAll(ctx context.Context) (int64, error) {
	return DeleteFrom[E](r.s).Safe().ExecuteUpdate(ctx)
}

// insertColumns returns the writable columns for INSERT: every
// declared column except database-generated ones.
func (r *Repository[E]) insertColumns() []*model.Column {
	var cols []*model.Column
	for _, c := range r.m.DeclaredColumns() {
		if c.Field.Auto {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// updateColumns filters a column set down to what an UPDATE may write:
// no primary-key and no generated columns.
func (r *Repository[E]) updateColumns(in []*model.Column) []*model.Column {
	var cols []*model.Column
	for _, c := range in {
		if c.PrimaryKey || c.Field.Auto {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// autoPK returns the generated primary-key field, if the model has one.
func (r *Repository[E]) autoPK() *model.Field {
	pk := r.m.PK()
	if len(pk) == 1 && pk[0].Auto {
		return pk[0]
	}
	return nil
}

func (r *Repository[E]) setPK(e *E, raw any) error {
	key, err := r.m.CoercePK(raw)
	if err != nil {
		return persistErr("insert", err)
	}
	rv := reflect.ValueOf(e).Elem()
	rv.FieldByIndex(r.m.PK()[0].Index).Set(reflect.ValueOf(key))
	return nil
}

func supportsReturning(d sqltemplate.Dialect) bool {
	switch d.Name() {
	case dialect.Postgres, dialect.SQLite:
		return true
	}
	return false
}

// ensureVersionColumn appends the version column to an update set if
// the dirty check did not already include it.
func ensureVersionColumn(cols []*model.Column, m *model.Model) []*model.Column {
	for _, c := range cols {
		if c.Version {
			return cols
		}
	}
	for _, c := range m.DeclaredColumns() {
		if c.Version {
			return append(cols, c)
		}
	}
	return cols
}

// initVersion sets an integer version field to one when it is still
// zero.
func initVersion(rv reflect.Value, vf *model.Field) {
	fv := rv.FieldByIndex(vf.Index)
	if fv.CanInt() && fv.Int() == 0 {
		fv.SetInt(1)
	}
	if fv.CanUint() && fv.Uint() == 0 {
		fv.SetUint(1)
	}
}

// bumpVersion increments an integer version field past its stored
// value.
func bumpVersion(rv reflect.Value, vf *model.Field, old any) {
	fv := rv.FieldByIndex(vf.Index)
	ov := reflect.ValueOf(old)
	switch {
	case fv.CanInt() && ov.CanInt():
		fv.SetInt(ov.Int() + 1)
	case fv.CanUint() && ov.CanUint():
		fv.SetUint(ov.Uint() + 1)
	}
}
