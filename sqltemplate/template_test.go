package sqltemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesCounts(t *testing.T) {
	_, err := New([]string{"a", "b"}, nil)
	require.Error(t, err)
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindMalformed, te.Kind)

	ts, err := New([]string{"a ", " b"}, []Value{ParamValue(1)})
	require.NoError(t, err)
	assert.Len(t, ts.Fragments(), 2)
	assert.Len(t, ts.Values(), 1)
}

func TestCombineMergesBoundaries(t *testing.T) {
	a := MustNew([]string{"x = ", ""}, []Value{ParamValue(1)})
	b := MustNew([]string{" AND y = ", ""}, []Value{ParamValue(2)})
	c := Combine(a, b)
	assert.Equal(t, []string{"x = ", " AND y = ", ""}, c.Fragments())
	assert.Len(t, c.Values(), 2)
}

func TestCombineAssociative(t *testing.T) {
	a := Raw("A")
	b := MustNew([]string{"B", "B'"}, []Value{ParamValue(1)})
	c := Raw("C")
	left := Combine(Combine(a, b), c)
	right := Combine(a, Combine(b, c))
	assert.Equal(t, left.Fragments(), right.Fragments())
	assert.Equal(t, left.String(), right.String())
}

func TestCombineEmpty(t *testing.T) {
	assert.True(t, Combine().IsEmpty())
	assert.True(t, Empty.IsEmpty())
	assert.False(t, Raw("x").IsEmpty())
}

func TestWrap(t *testing.T) {
	ts := Wrap(ParamValue(7))
	assert.Equal(t, []string{"", ""}, ts.Fragments())
	require.Len(t, ts.Values(), 1)
}

func TestBuild(t *testing.T) {
	ts, err := Build(func(insert func(Value) string) string {
		return "SELECT * FROM t WHERE a = " + insert(ParamValue(1)) +
			" AND b = " + insert(ParamValue(2))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT * FROM t WHERE a = ", " AND b = ", ""}, ts.Fragments())
	assert.Len(t, ts.Values(), 2)
}

func TestBuildEscapedDelimiter(t *testing.T) {
	ts, err := Build(func(insert func(Value) string) string {
		// A doubled marker is a literal delimiter character, not a
		// value boundary.
		return "x = " + insert(ParamValue(1)) + " -- " + Delim + Delim
	})
	require.NoError(t, err)
	require.Len(t, ts.Fragments(), 2)
	assert.Equal(t, " -- "+Delim, ts.Fragments()[1])
	assert.Len(t, ts.Values(), 1)
}

func TestBuildMarkerMismatch(t *testing.T) {
	_, err := Build(func(insert func(Value) string) string {
		insert(ParamValue(1))
		return "no marker here"
	})
	require.Error(t, err)
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindMalformed, te.Kind)
}

func TestJoinTemplates(t *testing.T) {
	ts := JoinTemplates(", ", Raw("a"), Raw("b"), Raw("c"))
	assert.Equal(t, "a, b, c", ts.String())

	assert.True(t, JoinTemplates(", ").IsEmpty())

	single := JoinTemplates(" AND ", Raw("x"))
	assert.Equal(t, "x", single.String())
}

func TestImmutability(t *testing.T) {
	ts := MustNew([]string{"a", "b"}, []Value{ParamValue(1)})
	frags := ts.Fragments()
	frags[0] = "mutated"
	assert.Equal(t, "a", ts.Fragments()[0])
}
