package sqltemplate_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

type Owner struct {
	ID   int `orm:"pk,auto"`
	Name string
	Age  int
}

type Pet struct {
	ID    int `orm:"pk,auto"`
	Name  string
	Owner *Owner
}

var (
	petType   = reflect.TypeOf(Pet{})
	ownerType = reflect.TypeOf(Owner{})
)

func process(t *testing.T, d sqltemplate.Dialect, ts sqltemplate.TemplateString) sqltemplate.Sql {
	t.Helper()
	s, err := sqltemplate.NewProcessor(d).Process(ts)
	require.NoError(t, err)
	return s
}

func TestTableRefPositions(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, ""))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	// In select position the table expands to its column list, in FROM
	// position to the table name.
	assert.Equal(t, "SELECT owners.id, owners.name, owners.age FROM owners", s.Statement)
	assert.Empty(t, s.Params)
}

func TestExplicitAlias(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.TableValueOf(ownerType, "o")) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "o"))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t, "SELECT o.id, o.name, o.age FROM owners AS o", s.Statement)
}

func TestParams(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Age"))) +
			" > " + ins(sqltemplate.ParamValue(30)) +
			" AND " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Name"))) +
			" <> " + ins(sqltemplate.ParamValue("x"))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t,
		"SELECT owners.id, owners.name, owners.age FROM owners WHERE owners.age > $1 AND owners.name <> $2",
		s.Statement)
	assert.Equal(t, []any{30, "x"}, s.Params)

	// Same template, ?-style placeholders.
	s = process(t, sqltemplate.SQLite{}, ts)
	assert.Contains(t, s.Statement, "owners.age > ? AND owners.name <> ?")
}

func TestPathAcrossJoin(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Name"))) +
			" FROM " + ins(sqltemplate.TableValueOf(petType, "")) +
			" JOIN " + ins(sqltemplate.JoinedTableValue(ownerType, petType, "Owner")) +
			" ON " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Owner"))) +
			" = " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Owner.ID"))) +
			" WHERE " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Owner.Name"))) +
			" = " + ins(sqltemplate.ParamValue("Ann"))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t,
		"SELECT pets.name FROM pets JOIN owners ON pets.owner_id = owners.id WHERE owners.name = $1",
		s.Statement)
}

func TestPathWithoutJoinFails(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Owner.Name"))) +
			" FROM " + ins(sqltemplate.TableValueOf(petType, ""))
	})
	require.NoError(t, err)

	_, err = sqltemplate.NewProcessor(sqltemplate.Postgres{}).Process(ts)
	require.Error(t, err)
	te, ok := sqltemplate.AsTemplateError(err)
	require.True(t, ok)
	assert.Equal(t, sqltemplate.KindMissingForeignKey, te.Kind)
}

func TestAliasCollisionRenames(t *testing.T) {
	sub := subquery{ts: mustBuild(t, func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "ID"))) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Age"))) +
			" > " + ins(sqltemplate.ParamValue(30))
	}), typ: ownerType}

	outer, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Name"))) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "ID"))) +
			" IN (" + ins(sqltemplate.SubqueryValue(sub)) + ")"
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, outer)
	// The inner table collides with the outer and is renamed with a
	// deterministic numeric suffix.
	assert.Equal(t,
		"SELECT owners.name FROM owners WHERE owners.id IN (SELECT owners1.id FROM owners AS owners1 WHERE owners1.age > $1)",
		s.Statement)
	assert.Equal(t, []any{30}, s.Params)
}

func TestOuterScopeReference(t *testing.T) {
	sub := subquery{ts: mustBuild(t, func(ins func(sqltemplate.Value) string) string {
		return "SELECT 1 FROM " + ins(sqltemplate.TableValueOf(petType, "")) +
			" WHERE " + ins(sqltemplate.PathValue(model.PathOfType(petType, "Owner"))) +
			" = " + ins(sqltemplate.OuterPathValue(model.PathOfType(ownerType, "ID")))
	}), typ: petType}

	outer, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Name"))) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE EXISTS (" + ins(sqltemplate.SubqueryValue(sub)) + ")"
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, outer)
	assert.Equal(t,
		"SELECT owners.name FROM owners WHERE EXISTS (SELECT 1 FROM pets WHERE pets.owner_id = owners.id)",
		s.Statement)
}

func TestOuterReferenceOutsideSubqueryFails(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.OuterPathValue(model.PathOfType(ownerType, "ID"))) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, ""))
	})
	require.NoError(t, err)

	_, err = sqltemplate.NewProcessor(sqltemplate.Postgres{}).Process(ts)
	require.Error(t, err)
}

func TestAmbiguousTableReference(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Name"))) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "a")) +
			", " + ins(sqltemplate.TableValueOf(ownerType, "b"))
	})
	require.NoError(t, err)

	_, err = sqltemplate.NewProcessor(sqltemplate.Postgres{}).Process(ts)
	require.Error(t, err)
	te, ok := sqltemplate.AsTemplateError(err)
	require.True(t, ok)
	assert.Equal(t, sqltemplate.KindAmbiguousAlias, te.Kind)
}

func TestRecordRef(t *testing.T) {
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE " + ins(sqltemplate.RecordValue(&Owner{ID: 9, Name: "Ann"}))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t,
		"SELECT owners.id, owners.name, owners.age FROM owners WHERE owners.id = $1",
		s.Statement)
	assert.Equal(t, []any{9}, s.Params)
}

func TestNestedTemplate(t *testing.T) {
	cond := mustBuild(t, func(ins func(sqltemplate.Value) string) string {
		return ins(sqltemplate.PathValue(model.PathOfType(ownerType, "Age"))) +
			" > " + ins(sqltemplate.ParamValue(18))
	})
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT 1 FROM " + ins(sqltemplate.TableValueOf(ownerType, "")) +
			" WHERE " + ins(sqltemplate.NestedValue(cond))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t, "SELECT 1 FROM owners WHERE owners.age > $1", s.Statement)
}

func TestUnsafePassesThrough(t *testing.T) {
	ts := sqltemplate.Combine(
		sqltemplate.Raw("SELECT 1"),
		sqltemplate.Wrap(sqltemplate.UnsafeValue(" FOR UPDATE")),
	)
	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t, "SELECT 1 FOR UPDATE", s.Statement)
}

func TestReservedIdentifierEscaping(t *testing.T) {
	type Grant struct {
		ID   int    `orm:"pk"`
		User string `orm:"column=user"`
	}
	gt := reflect.TypeOf(Grant{})
	ts, err := sqltemplate.Build(func(ins func(sqltemplate.Value) string) string {
		return "SELECT " + ins(sqltemplate.PathValue(model.PathOfType(gt, "User"))) +
			" FROM " + ins(sqltemplate.TableValueOf(gt, ""))
	})
	require.NoError(t, err)

	s := process(t, sqltemplate.Postgres{}, ts)
	assert.Equal(t, `SELECT grants."user" FROM grants`, s.Statement)

	s = process(t, sqltemplate.MySQL{}, ts)
	assert.Equal(t, "SELECT grants.`user` FROM grants", s.Statement)
}

type subquery struct {
	ts  sqltemplate.TemplateString
	typ reflect.Type
}

func (s subquery) SubqueryTemplate() (sqltemplate.TemplateString, error) { return s.ts, nil }
func (s subquery) SubqueryType() reflect.Type                            { return s.typ }

func mustBuild(t *testing.T, fn func(ins func(sqltemplate.Value) string) string) sqltemplate.TemplateString {
	t.Helper()
	ts, err := sqltemplate.Build(fn)
	require.NoError(t, err)
	return ts
}
