// Package sqltemplate implements the fragment/value template model that
// all generated SQL is built from, the dialect abstraction, and the
// processor that expands templates into dialect-correct SQL text with an
// ordered positional-parameter list.
//
// A TemplateString is an ordered sequence of N literal fragments and N-1
// injected values. Values are a closed set of variants (table references,
// metamodel paths, subqueries, nested templates, records, parameters), so
// the processor dispatch is exhaustive. Parameters never concatenate into
// the SQL text; they always lower to bind placeholders.
package sqltemplate

import "strings"

// Delim is the marker returned by the insert callback of Build. Two
// consecutive markers escape a literal delimiter character.
const Delim = "\x00"

// TemplateString is an immutable sequence of literal SQL fragments
// interleaved with injected values. The invariant
// len(fragments) == len(values)+1 holds for every constructed instance.
type TemplateString struct {
	fragments []string
	values    []Value
}

// Empty is the canonical empty template: one empty fragment, no values.
var Empty = TemplateString{fragments: []string{""}}

// New constructs a TemplateString and validates the fragment/value
// count relation. Violating it is a construction-time error; no other
// validation happens at this layer.
func New(fragments []string, values []Value) (TemplateString, error) {
	if len(fragments) != len(values)+1 {
		return TemplateString{}, NewError(KindMalformed,
			"%d fragments require %d values, got %d", len(fragments), len(fragments)-1, len(values))
	}
	return TemplateString{fragments: fragments, values: values}, nil
}

// MustNew is like New but panics on a malformed fragment/value sequence.
// Intended for templates assembled from literals the caller controls.
func MustNew(fragments []string, values []Value) TemplateString {
	ts, err := New(fragments, values)
	if err != nil {
		panic(err)
	}
	return ts
}

// Raw returns a single-fragment template holding the given SQL text
// verbatim. The text is emitted as-is, without escaping.
func Raw(sql string) TemplateString {
	return TemplateString{fragments: []string{sql}}
}

// Wrap returns a single-placeholder template holding only the given
// value, typically used to inject a bare table or column reference into
// a larger template.
func Wrap(v Value) TemplateString {
	return TemplateString{fragments: []string{"", ""}, values: []Value{v}}
}

// Combine concatenates the given template strings preserving order. The
// last fragment of each template merges with the first fragment of the
// next, so no artificial boundaries appear. Combine is associative, and
// the combine of zero templates is the canonical empty template.
func Combine(ts ...TemplateString) TemplateString {
	switch len(ts) {
	case 0:
		return Empty
	case 1:
		return ts[0]
	}
	nf, nv := 1, 0
	for _, t := range ts {
		nf += len(t.fragments) - 1
		nv += len(t.values)
	}
	fragments := make([]string, 1, nf)
	values := make([]Value, 0, nv)
	for _, t := range ts {
		// Merge boundary: append the first fragment onto the current last.
		fragments[len(fragments)-1] += t.fragments[0]
		fragments = append(fragments, t.fragments[1:]...)
		values = append(values, t.values...)
	}
	return TemplateString{fragments: fragments, values: values}
}

// Build constructs a template through a callback that interpolates
// values into literal text. Each call to insert registers one value and
// returns the delimiter marker; after the callback returns, the text is
// split on unescaped delimiter occurrences to reconstruct the fragment
// list. An escaped delimiter (two consecutive markers beyond the
// registered count) is restored as a literal delimiter character.
func Build(fn func(insert func(Value) string) string) (TemplateString, error) {
	var values []Value
	insert := func(v Value) string {
		values = append(values, v)
		return Delim
	}
	text := fn(insert)
	fragments, n := splitUnescaped(text)
	if n != len(values) {
		return TemplateString{}, NewError(KindMalformed,
			"text contains %d insertion markers, %d values registered", n, len(values))
	}
	return TemplateString{fragments: fragments, values: values}, nil
}

// splitUnescaped splits text on single delimiter occurrences, restoring
// doubled delimiters as one literal delimiter character inside a
// fragment. It returns the fragments and the number of boundaries.
func splitUnescaped(text string) ([]string, int) {
	var (
		fragments []string
		b         strings.Builder
		n         int
	)
	for i := 0; i < len(text); i++ {
		if text[i] != Delim[0] {
			b.WriteByte(text[i])
			continue
		}
		if i+1 < len(text) && text[i+1] == Delim[0] {
			b.WriteByte(Delim[0])
			i++
			continue
		}
		fragments = append(fragments, b.String())
		b.Reset()
		n++
	}
	fragments = append(fragments, b.String())
	return fragments, n
}

// Fragments returns a copy of the literal fragments.
func (t TemplateString) Fragments() []string {
	out := make([]string, len(t.fragments))
	copy(out, t.fragments)
	return out
}

// Values returns a copy of the injected values.
func (t TemplateString) Values() []Value {
	out := make([]Value, len(t.values))
	copy(out, t.values)
	return out
}

// IsEmpty reports whether the template holds no values and no text.
func (t TemplateString) IsEmpty() bool {
	return len(t.values) == 0 && (len(t.fragments) == 0 || (len(t.fragments) == 1 && t.fragments[0] == ""))
}

// String returns a debug representation with value markers. It is not
// valid SQL; use a Processor to produce SQL.
func (t TemplateString) String() string {
	var b strings.Builder
	for i, f := range t.fragments {
		b.WriteString(f)
		if i < len(t.values) {
			b.WriteString("{" + t.values[i].debug() + "}")
		}
	}
	return b.String()
}

// JoinTemplates interleaves the given templates with the literal
// separator, dropping the stray trailing separator before combining.
func JoinTemplates(sep string, ts ...TemplateString) TemplateString {
	if len(ts) == 0 {
		return Empty
	}
	parts := make([]TemplateString, 0, len(ts)*2-1)
	for i, t := range ts {
		if i > 0 {
			parts = append(parts, Raw(sep))
		}
		parts = append(parts, t)
	}
	return Combine(parts...)
}
