// Package quill is an SQL-centric persistence layer: entity mapping is
// derived from plain structs, statements are assembled from template
// strings carrying typed values, and expansion to dialect-correct SQL
// with positional parameters is deferred until execution.
//
// A minimal session:
//
//	db, err := quill.Open("pgx", dsn)
//	pets := quill.MustRepository[Pet](db)
//	pet, err := pets.Get(ctx, 1)
//
//	adults, err := quill.SelectFrom[Pet](db).
//		Where(quill.Gte(quill.Path[Pet]("Owner.Age"), 18)).
//		Query().
//		GetResultList(ctx)
package quill

import (
	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

// Path returns a metamodel path rooted at the entity type E. It is a
// convenience alias for model.PathOf.
func Path[E any](expr string) model.Path {
	return model.PathOf[E](expr)
}

// Ref is a convenience alias for a deferred entity reference.
type Ref[E any] = model.Ref[E]

// NewRef returns a deferred reference carrying the given key.
func NewRef[E any](key any) Ref[E] {
	return model.NewRef[E](key)
}

// Raw wraps literal SQL in a template string. The text bypasses
// escaping and parameter binding.
func Raw(sql string) sqltemplate.TemplateString {
	return sqltemplate.Raw(sql)
}

// Subquery starts a SELECT builder meant to be embedded in another
// statement. Without an explicit projection it selects the primary key.
func Subquery[E any](s Session) *QueryBuilder[E] {
	return newBuilder[E](s, selectStmt, "")
}

// QueryTemplate wraps a prebuilt template string as a query hydrating
// E. The template's projection must match the entity's expanded column
// order.
func QueryTemplate[E any](s Session, ts sqltemplate.TemplateString) *Query[E] {
	q := &Query[E]{s: s, ts: ts}
	m, err := model.Of[E]()
	if err != nil {
		q.err = persistErr("resolve model", err)
		return q
	}
	q.m = m
	q.label = label(m)
	return q
}
