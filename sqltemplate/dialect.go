package sqltemplate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/syssam/quill/dialect"
)

// LockMode selects the row-locking hint appended to a SELECT.
type LockMode int

const (
	// LockNone requests no locking clause.
	LockNone LockMode = iota
	// LockShare requests a shared lock (FOR SHARE / LOCK IN SHARE MODE).
	LockShare
	// LockUpdate requests an exclusive lock (FOR UPDATE).
	LockUpdate
)

// Dialect encapsulates identifier quoting, keyword detection and the
// syntax variance between database engines: limit/offset placement,
// lock hints and multi-value IN support.
type Dialect interface {
	// Name returns the dialect name (see the dialect package constants).
	Name() string
	// NeedsEscape reports whether the identifier collides with a
	// reserved keyword or fails the dialect's identifier pattern.
	NeedsEscape(ident string) bool
	// Escape returns the escaped form of the identifier.
	Escape(ident string) string
	// MaybeEscape escapes the identifier only when required.
	MaybeEscape(ident string) string
	// Placeholder returns the bind placeholder for the 1-based index.
	Placeholder(index int) string
	// Limit returns the limit/offset fragment. A negative limit means
	// "no limit" (offset only) and vice versa.
	Limit(limit, offset int) string
	// LimitAfterSelect reports whether the limiting syntax appears
	// immediately after SELECT instead of at the statement tail.
	LimitAfterSelect() bool
	// Lock returns the lock hint for the mode and whether it attaches
	// directly after the FROM clause rather than at statement end.
	Lock(mode LockMode) (hint string, afterFrom bool)
	// SupportsMultiValueTuples reports whether the dialect accepts
	// native tuple syntax in multi-column IN clauses. Dialects without
	// it receive an expanded disjunction of ANDed equality groups.
	SupportsMultiValueTuples() bool
}

// ForDialect returns the Dialect implementation for a dialect name,
// falling back to the ANSI default for unknown names.
func ForDialect(name string) Dialect {
	switch name {
	case dialect.Postgres:
		return Postgres{}
	case dialect.MySQL:
		return MySQL{}
	case dialect.SQLite:
		return SQLite{}
	default:
		return ANSI{}
	}
}

// identRe is the identifier pattern shared by the built-in dialects.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedKeywords is the shared reserved-word table. Individual
// dialects extend it with their own additions.
var reservedKeywords = keywordSet(
	"ALL", "AND", "ANY", "AS", "ASC", "BETWEEN", "BY", "CASE", "CHECK",
	"COLUMN", "CONSTRAINT", "CREATE", "CROSS", "CURRENT", "DEFAULT",
	"DELETE", "DESC", "DISTINCT", "DROP", "ELSE", "END", "EXISTS",
	"FALSE", "FETCH", "FOR", "FOREIGN", "FROM", "FULL", "GRANT", "GROUP",
	"HAVING", "IN", "INNER", "INSERT", "INTERSECT", "INTO", "IS", "JOIN",
	"KEY", "LEFT", "LIKE", "LIMIT", "NOT", "NULL", "OFFSET", "ON", "OR",
	"ORDER", "OUTER", "PRIMARY", "REFERENCES", "RIGHT", "SELECT", "SET",
	"TABLE", "THEN", "TO", "TRUE", "UNION", "UNIQUE", "UPDATE", "USER",
	"USING", "VALUES", "WHEN", "WHERE", "WITH",
)

func keywordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isReserved(set map[string]struct{}, ident string) bool {
	_, ok := set[strings.ToUpper(ident)]
	return ok
}

// ANSI is the default dialect: double-quoted identifiers, ?-style
// placeholders, LIMIT/OFFSET at the tail, no tuple IN support.
type ANSI struct{}

// Name returns "ansi".
func (ANSI) Name() string { return "ansi" }

// NeedsEscape implements Dialect.
func (ANSI) NeedsEscape(ident string) bool {
	return isReserved(reservedKeywords, ident) || !identRe.MatchString(ident)
}

// Escape implements Dialect.
func (ANSI) Escape(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// MaybeEscape implements Dialect.
func (d ANSI) MaybeEscape(ident string) string {
	if d.NeedsEscape(ident) {
		return d.Escape(ident)
	}
	return ident
}

// Placeholder implements Dialect.
func (ANSI) Placeholder(int) string { return "?" }

// Limit implements Dialect.
func (ANSI) Limit(limit, offset int) string { return tailLimit(limit, offset) }

// LimitAfterSelect implements Dialect.
func (ANSI) LimitAfterSelect() bool { return false }

// Lock implements Dialect.
func (ANSI) Lock(mode LockMode) (string, bool) {
	switch mode {
	case LockShare:
		return "FOR SHARE", false
	case LockUpdate:
		return "FOR UPDATE", false
	}
	return "", false
}

// SupportsMultiValueTuples implements Dialect.
func (ANSI) SupportsMultiValueTuples() bool { return false }

// Postgres implements Dialect for PostgreSQL.
type Postgres struct{ ANSI }

// Name returns the dialect name.
func (Postgres) Name() string { return dialect.Postgres }

// Placeholder returns $n-style ordinal placeholders.
func (Postgres) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

// SupportsMultiValueTuples reports native row-value support.
func (Postgres) SupportsMultiValueTuples() bool { return true }

// MySQL implements Dialect for MySQL/MariaDB.
type MySQL struct{}

var mysqlKeywords = keywordSet("BINARY", "CHANGE", "DATABASES", "DIV",
	"IGNORE", "INDEX", "KILL", "LOCK", "RANGE", "REGEXP", "RLIKE",
	"SCHEMA", "SHOW", "STRAIGHT_JOIN",
)

// Name returns the dialect name.
func (MySQL) Name() string { return dialect.MySQL }

// NeedsEscape implements Dialect.
func (MySQL) NeedsEscape(ident string) bool {
	return isReserved(reservedKeywords, ident) ||
		isReserved(mysqlKeywords, ident) ||
		!identRe.MatchString(ident)
}

// Escape implements Dialect using backtick quoting.
func (MySQL) Escape(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// MaybeEscape implements Dialect.
func (d MySQL) MaybeEscape(ident string) string {
	if d.NeedsEscape(ident) {
		return d.Escape(ident)
	}
	return ident
}

// Placeholder implements Dialect.
func (MySQL) Placeholder(int) string { return "?" }

// Limit implements Dialect.
func (MySQL) Limit(limit, offset int) string {
	// MySQL requires a LIMIT when OFFSET is present.
	if limit < 0 && offset > 0 {
		return fmt.Sprintf("LIMIT 18446744073709551615 OFFSET %d", offset)
	}
	return tailLimit(limit, offset)
}

// LimitAfterSelect implements Dialect.
func (MySQL) LimitAfterSelect() bool { return false }

// Lock implements Dialect.
func (MySQL) Lock(mode LockMode) (string, bool) {
	switch mode {
	case LockShare:
		return "LOCK IN SHARE MODE", false
	case LockUpdate:
		return "FOR UPDATE", false
	}
	return "", false
}

// SupportsMultiValueTuples reports native row-value support.
func (MySQL) SupportsMultiValueTuples() bool { return true }

// SQLite implements Dialect for SQLite.
type SQLite struct{ ANSI }

// Name returns the dialect name.
func (SQLite) Name() string { return dialect.SQLite }

// Lock implements Dialect. SQLite has no row-level lock hints; locking
// is a transaction property, so the hint is empty.
func (SQLite) Lock(LockMode) (string, bool) { return "", false }

// SupportsMultiValueTuples implements Dialect. Multi-column IN clauses
// are expanded into equality disjunctions for SQLite.
func (SQLite) SupportsMultiValueTuples() bool { return false }

// tailLimit renders the common "LIMIT n OFFSET m" tail fragment.
func tailLimit(limit, offset int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return ""
}
