package model

import (
	"reflect"
	"strings"
)

// Path is a typed, dot-separated route from a root entity through zero
// or more foreign-key hops to a terminal field (for example
// "owner.address.city.name"). Paths are plain values; validity is
// checked when they are resolved against a model, and an invalid path
// is a hard failure at that point, never silently ignored.
type Path struct {
	root reflect.Type
	expr string
	col  int // 1-based column selection for multi-column paths, 0 = all
}

// PathOf returns a path rooted at the entity type E.
func PathOf[E any](expr string) Path {
	return Path{root: reflect.TypeOf((*E)(nil)).Elem(), expr: expr}
}

// PathOfType returns a path rooted at a runtime type.
func PathOfType(root reflect.Type, expr string) Path {
	for root.Kind() == reflect.Pointer {
		root = root.Elem()
	}
	return Path{root: root, expr: expr}
}

// Root returns the root entity type.
func (p Path) Root() reflect.Type { return p.root }

// String returns the dotted path expression.
func (p Path) String() string { return p.expr }

// IsZero reports whether the path is unset.
func (p Path) IsZero() bool { return p.root == nil }

// Select narrows a multi-column path to its i-th column (1-based).
// Resolution fails when the selection is out of range.
func (p Path) Select(i int) Path {
	p.col = i
	return p
}

// Dot returns the path extended by one segment.
func (p Path) Dot(seg string) Path {
	if p.expr == "" {
		return Path{root: p.root, expr: seg}
	}
	return Path{root: p.root, expr: p.expr + "." + seg}
}

// segments splits the path expression.
func (p Path) segments() []string {
	if p.expr == "" {
		return nil
	}
	return strings.Split(p.expr, ".")
}

// resolved is the outcome of walking a path against a model.
type resolved struct {
	owner     *Model  // model declaring the terminal field
	field     *Field  // terminal field
	qualifier string  // FK-hop path to the owner, "" for root
	prefix    []*Field // relationship hops leading to the terminal field
}

// walk resolves the path structure against m without materializing
// columns.
func (m *Model) walk(p Path) (resolved, error) {
	if p.IsZero() {
		return resolved{}, pathErr(PathInvalid, m.Type, "", "empty path")
	}
	if p.root != m.Type {
		return resolved{}, pathErr(PathInvalid, m.Type, p.expr,
			"path is rooted at %s, not %s", p.root, m.Type)
	}
	segs := p.segments()
	if len(segs) == 0 {
		return resolved{}, pathErr(PathInvalid, m.Type, p.expr, "empty path")
	}
	var (
		cur       = m
		qualifier string
		prefix    []*Field
	)
	for i, seg := range segs {
		f, ok := cur.FieldByName(seg)
		if !ok {
			return resolved{}, pathErr(PathInvalid, m.Type, p.expr,
				"segment %q does not exist on %s", seg, cur.Type)
		}
		if i == len(segs)-1 {
			return resolved{owner: cur, field: f, qualifier: qualifier, prefix: prefix}, nil
		}
		if !f.IsRelation() {
			return resolved{}, pathErr(PathInvalid, m.Type, p.expr,
				"segment %q on %s is not a foreign key", seg, cur.Type)
		}
		prefix = append(prefix, f)
		qualifier = qualify(qualifier, f.Name)
		cur = f.Target()
	}
	return resolved{}, pathErr(PathInvalid, m.Type, p.expr, "unreachable")
}

// GetColumns resolves a dotted path to its physical column(s). A path
// terminating at a scalar field yields one column; a path terminating
// at a relationship yields that relationship's join-key column(s) held
// by the parent row. Resolution failures are hard errors.
func (m *Model) GetColumns(p Path) ([]*Column, error) {
	r, err := m.walk(p)
	if err != nil {
		return nil, err
	}
	// Prefer columns from the expanded list so indices stay stable.
	var cols []*Column
	for _, c := range m.expanded {
		if c.Qualifier != r.qualifier || c.Field != r.field {
			continue
		}
		cols = append(cols, c)
	}
	if len(cols) > 0 {
		return p.selectCols(m, cols)
	}
	// Paths crossing deferred references leave the expansion; columns
	// are synthesized with an unbound index.
	if r.field.IsRelation() {
		cols = joinKeyColumns(r.owner, r.field, r.qualifier, r.qualifier == "")
	} else {
		cols = []*Column{{
			Name:       r.field.Column,
			Model:      r.owner,
			Field:      r.field,
			Qualifier:  r.qualifier,
			PrimaryKey: r.field.PrimaryKey,
			Nullable:   r.field.Nullable,
			Version:    r.field.Version,
			FromRoot:   r.qualifier == "",
		}}
	}
	for _, c := range cols {
		c.Index = -1
	}
	if len(cols) == 0 {
		return nil, pathErr(PathInvalid, m.Type, p.expr, "path resolves to no columns")
	}
	return p.selectCols(m, cols)
}

func (p Path) selectCols(m *Model, cols []*Column) ([]*Column, error) {
	if p.col == 0 {
		return cols, nil
	}
	if p.col < 0 || p.col > len(cols) {
		return nil, pathErr(PathInvalid, m.Type, p.expr,
			"column selection %d out of range, path has %d columns", p.col, len(cols))
	}
	return cols[p.col-1 : p.col], nil
}

// GetSingleColumn resolves a path that must target exactly one column.
func (m *Model) GetSingleColumn(p Path) (*Column, error) {
	cols, err := m.GetColumns(p)
	if err != nil {
		return nil, err
	}
	if len(cols) != 1 {
		return nil, pathErr(PathNotSingle, m.Type, p.expr,
			"path resolves to %d columns, exactly one required", len(cols))
	}
	return cols[0], nil
}

// FindMetamodel finds the unique path from the model's root to a given
// referenced entity type. It returns false when zero or more than one
// path exists: ambiguity is a legitimate "not found" outcome here, not
// an error.
func (m *Model) FindMetamodel(target reflect.Type) (Path, bool) {
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	var matches []Path
	m.findPaths(target, Path{root: m.Type}, map[reflect.Type]bool{m.Type: true}, &matches)
	if len(matches) != 1 {
		return Path{}, false
	}
	return matches[0], true
}

func (m *Model) findPaths(target reflect.Type, prefix Path, seen map[reflect.Type]bool, out *[]Path) {
	for _, f := range m.Fields {
		if !f.IsRelation() {
			continue
		}
		p := prefix.Dot(f.Name)
		if f.Target().Type == target {
			*out = append(*out, p)
			continue
		}
		if seen[f.Target().Type] {
			continue
		}
		seen[f.Target().Type] = true
		f.Target().findPaths(target, p, seen, out)
		delete(seen, f.Target().Type)
	}
}

// RelationBetween finds the declared foreign-key relationship linking
// two models: the field on `from` referencing `to`, or the field on
// `to` referencing `from`. The model owning the foreign key is returned
// first. Zero or multiple candidate relationships fail.
func RelationBetween(from, to *Model) (*Model, *Field, error) {
	var (
		owner  *Model
		field  *Field
		nfound int
	)
	for _, f := range from.Fields {
		if f.IsRelation() && f.Target().Type == to.Type {
			owner, field = from, f
			nfound++
		}
	}
	for _, f := range to.Fields {
		if f.IsRelation() && f.Target().Type == from.Type {
			owner, field = to, f
			nfound++
		}
	}
	switch nfound {
	case 1:
		return owner, field, nil
	case 0:
		return nil, nil, pathErr(PathInvalid, from.Type, "",
			"no foreign-key relationship between %s and %s", from.Type, to.Type)
	default:
		return nil, nil, pathErr(PathAmbiguous, from.Type, "",
			"%d foreign-key relationships between %s and %s", nfound, from.Type, to.Type)
	}
}
