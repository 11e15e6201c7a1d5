package quill

import (
	"context"
	"database/sql"

	qsql "github.com/syssam/quill/dialect/sql"
	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

// Query is a finalized entity query. It is cheap to create and holds
// no connection state; every execution expands and runs independently.
type Query[E any] struct {
	s     Session
	m     *model.Model
	ts    sqltemplate.TemplateString
	err   error
	label string
}

// Template returns the lowered template string, mostly for diagnostics.
func (q *Query[E]) Template() (sqltemplate.TemplateString, error) {
	return q.ts, q.err
}

// GetResultList executes the query and returns every matching entity.
func (q *Query[E]) GetResultList(ctx context.Context) ([]*E, error) {
	stream, err := q.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return streamAll(stream)
}

// GetSingleResult executes the query and returns exactly one entity.
// Zero rows yield a NoResultError, more than one a
// NonUniqueResultError.
func (q *Query[E]) GetSingleResult(ctx context.Context) (*E, error) {
	list, err := q.GetResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 1:
		return list[0], nil
	case 0:
		return nil, &NoResultError{label: q.label}
	default:
		return nil, &NonUniqueResultError{label: q.label, count: len(list)}
	}
}

// GetOptionalResult executes the query and returns one entity or nil.
// More than one row is still a NonUniqueResultError.
func (q *Query[E]) GetOptionalResult(ctx context.Context) (*E, error) {
	list, err := q.GetResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, &NonUniqueResultError{label: q.label, count: len(list)}
	}
}

// Stream executes the query and returns a row-backed entity stream.
// The caller owns the stream and must close it.
func (q *Query[E]) Stream(ctx context.Context) (*Stream[*E], error) {
	if q.err != nil {
		return nil, q.err
	}
	rows, err := queryRows(ctx, q.s, q.ts)
	if err != nil {
		return nil, err
	}
	scanner := model.NewScanner(q.m, q.m.Columns())
	return newStream(rows, func(r qsql.Rows) (*E, error) {
		targets := scanner.Targets()
		if err := r.Scan(targets...); err != nil {
			return nil, persistErr("scan", err)
		}
		rec, err := scanner.Assemble(targets)
		if err != nil {
			return nil, persistErr("scan", err)
		}
		return rec.(*E), nil
	}), nil
}

// PreparedQuery is a query expanded once and reusable across
// executions. Additional parameter sets can be batched for DML reuse.
type PreparedQuery[E any] struct {
	s     Session
	m     *model.Model
	stmt  sqltemplate.Sql
	label string
	batch [][]any
}

// SQL returns the expanded statement.
func (p *PreparedQuery[E]) SQL() sqltemplate.Sql { return p.stmt }

// GetResultList executes the prepared statement and returns every
// matching entity.
func (p *PreparedQuery[E]) GetResultList(ctx context.Context) ([]*E, error) {
	stream, err := p.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return streamAll(stream)
}

// GetSingleResult executes the prepared statement expecting one row.
func (p *PreparedQuery[E]) GetSingleResult(ctx context.Context) (*E, error) {
	list, err := p.GetResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 1:
		return list[0], nil
	case 0:
		return nil, &NoResultError{label: p.label}
	default:
		return nil, &NonUniqueResultError{label: p.label, count: len(list)}
	}
}

// Stream executes the prepared statement and streams entities.
func (p *PreparedQuery[E]) Stream(ctx context.Context) (*Stream[*E], error) {
	var rows qsql.Rows
	if err := p.s.exec().Query(ctx, p.stmt.Statement, p.stmt.Params, &rows); err != nil {
		return nil, persistErr("query", err)
	}
	scanner := model.NewScanner(p.m, p.m.Columns())
	return newStream(rows, func(r qsql.Rows) (*E, error) {
		targets := scanner.Targets()
		if err := r.Scan(targets...); err != nil {
			return nil, persistErr("scan", err)
		}
		rec, err := scanner.Assemble(targets)
		if err != nil {
			return nil, persistErr("scan", err)
		}
		return rec.(*E), nil
	}), nil
}

// AddBatch queues one parameter set for ExecuteBatch. The set must
// align positionally with the prepared statement's placeholders.
func (p *PreparedQuery[E]) AddBatch(params ...any) *PreparedQuery[E] {
	p.batch = append(p.batch, params)
	return p
}

// ExecuteBatch runs the prepared DML once per queued parameter set and
// returns the affected row count of each execution. The queue is
// cleared afterwards.
func (p *PreparedQuery[E]) ExecuteBatch(ctx context.Context) ([]int64, error) {
	affected := make([]int64, 0, len(p.batch))
	for _, params := range p.batch {
		var res sql.Result
		if err := p.s.exec().Exec(ctx, p.stmt.Statement, params, &res); err != nil {
			return affected, persistErr("execute batch", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, persistErr("execute batch", err)
		}
		affected = append(affected, n)
	}
	p.batch = nil
	return affected, nil
}

// queryRows expands a template and executes it, returning the rows.
func queryRows(ctx context.Context, s Session, ts sqltemplate.TemplateString) (qsql.Rows, error) {
	stmt, err := expand(ctx, s, ts)
	if err != nil {
		return qsql.Rows{}, err
	}
	var rows qsql.Rows
	if err := s.exec().Query(ctx, stmt.Statement, stmt.Params, &rows); err != nil {
		return qsql.Rows{}, persistErr("query", err)
	}
	return rows, nil
}

// execAffected expands a template, executes it and returns the
// affected row count.
func execAffected(ctx context.Context, s Session, ts sqltemplate.TemplateString) (int64, error) {
	stmt, err := expand(ctx, s, ts)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	if err := s.exec().Exec(ctx, stmt.Statement, stmt.Params, &res); err != nil {
		return 0, persistErr("execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("execute", err)
	}
	return n, nil
}

// queryScalarInt executes a single-row single-column integer query.
func queryScalarInt(ctx context.Context, s Session, ts sqltemplate.TemplateString) (int64, error) {
	rows, err := queryRows(ctx, s, ts)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, persistErr("query", err)
		}
		return 0, &NoResultError{label: "scalar"}
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, persistErr("scan", err)
	}
	return n, rows.Err()
}

// refStream executes a key-only query and streams deferred references.
func refStream[E any](ctx context.Context, s Session, ts sqltemplate.TemplateString, label string) (*Stream[model.Ref[E]], error) {
	m, err := model.Of[E]()
	if err != nil {
		return nil, persistErr("resolve model", err)
	}
	rows, err := queryRows(ctx, s, ts)
	if err != nil {
		return nil, err
	}
	return newStream(rows, func(r qsql.Rows) (model.Ref[E], error) {
		var raw any
		if err := r.Scan(&raw); err != nil {
			return model.Ref[E]{}, persistErr("scan", err)
		}
		key, err := m.CoercePK(raw)
		if err != nil {
			return model.Ref[E]{}, persistErr("scan", err)
		}
		return model.NewRef[E](key), nil
	}), nil
}
