// Package sqldoc implements domain.DocumentStore over database/sql. Each table
// holds (id, version, data) rows; the SQL that differs between engines lives
// behind a Dialect.
package sqldoc

import (
	"bufio"
	"strconv"
	"strings"
)

// Dialect supplies the engine specific SQL for a document table.
type Dialect interface {
	// Name identifies the dialect in logs and errors.
	Name() string
	// CreateTableSQL returns one or more ';' separated statements creating
	// table if it does not exist.
	CreateTableSQL(table string) string
	// CreateIndexSQL returns the document index DDL, or "" when the dialect
	// has none.
	CreateIndexSQL(table string) string
	// Rebind rewrites '?' placeholders into the driver's native form.
	Rebind(query string) string
	// ReturningID reports whether INSERT ... RETURNING id is supported. When
	// false the store falls back to sql.Result.LastInsertId.
	ReturningID() bool
	// LikePredicate is the containment predicate with one '?' parameter.
	LikePredicate() string
}

// SplitStatements breaks a DDL script into executable statements, skipping
// blank lines and '--' comments.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

// RebindDollar rewrites '?' placeholders to $1, $2, ... outside quoted
// literals and identifiers. A doubled '??' produces a literal '?', which keeps
// operators such as jsonb '?' usable in caller fragments.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			b.WriteByte(c)
		case '?':
			if i+1 < len(query) && query[i+1] == '?' {
				b.WriteByte('?')
				i++
				continue
			}
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
