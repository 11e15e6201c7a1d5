package sqltemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/quill/dialect"
)

func TestForDialect(t *testing.T) {
	assert.IsType(t, Postgres{}, ForDialect(dialect.Postgres))
	assert.IsType(t, MySQL{}, ForDialect(dialect.MySQL))
	assert.IsType(t, SQLite{}, ForDialect(dialect.SQLite))
	assert.IsType(t, ANSI{}, ForDialect("oracle"))
}

func TestEscaping(t *testing.T) {
	ansi := ANSI{}
	assert.Equal(t, "pets", ansi.MaybeEscape("pets"))
	assert.Equal(t, `"order"`, ansi.MaybeEscape("order"))
	assert.Equal(t, `"USER"`, ansi.MaybeEscape("USER"))
	assert.Equal(t, `"odd name"`, ansi.MaybeEscape("odd name"))
	assert.Equal(t, `"a""b"`, ansi.Escape(`a"b`))

	my := MySQL{}
	assert.Equal(t, "pets", my.MaybeEscape("pets"))
	assert.Equal(t, "`order`", my.MaybeEscape("order"))
	// MySQL has extra reserved words on top of the shared set.
	assert.Equal(t, "`lock`", my.MaybeEscape("lock"))
	assert.Equal(t, "lock", ANSI{}.MaybeEscape("lock"))
	assert.Equal(t, "`a``b`", my.Escape("a`b"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", ANSI{}.Placeholder(3))
	assert.Equal(t, "?", MySQL{}.Placeholder(3))
	assert.Equal(t, "?", SQLite{}.Placeholder(3))
	assert.Equal(t, "$1", Postgres{}.Placeholder(1))
	assert.Equal(t, "$12", Postgres{}.Placeholder(12))
}

func TestLimitRendering(t *testing.T) {
	assert.Equal(t, "LIMIT 10 OFFSET 20", ANSI{}.Limit(10, 20))
	assert.Equal(t, "LIMIT 10", ANSI{}.Limit(10, 0))
	assert.Equal(t, "OFFSET 20", ANSI{}.Limit(-1, 20))
	assert.Equal(t, "", ANSI{}.Limit(-1, 0))
	assert.Equal(t, "LIMIT 0", ANSI{}.Limit(0, 0))

	// MySQL cannot express a bare OFFSET.
	assert.Equal(t, "LIMIT 18446744073709551615 OFFSET 20", MySQL{}.Limit(-1, 20))
	assert.Equal(t, "LIMIT 10 OFFSET 20", MySQL{}.Limit(10, 20))
}

func TestLockHints(t *testing.T) {
	hint, afterFrom := Postgres{}.Lock(LockUpdate)
	assert.Equal(t, "FOR UPDATE", hint)
	assert.False(t, afterFrom)

	hint, _ = Postgres{}.Lock(LockShare)
	assert.Equal(t, "FOR SHARE", hint)

	hint, _ = MySQL{}.Lock(LockShare)
	assert.Equal(t, "LOCK IN SHARE MODE", hint)

	hint, _ = SQLite{}.Lock(LockUpdate)
	assert.Equal(t, "", hint)

	hint, _ = ANSI{}.Lock(LockNone)
	assert.Equal(t, "", hint)
}

func TestTupleSupport(t *testing.T) {
	assert.True(t, Postgres{}.SupportsMultiValueTuples())
	assert.True(t, MySQL{}.SupportsMultiValueTuples())
	assert.False(t, SQLite{}.SupportsMultiValueTuples())
	assert.False(t, ANSI{}.SupportsMultiValueTuples())
}
