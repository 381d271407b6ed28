package store

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported databases.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool

	// insertIgnore turns an INSERT into an insert-or-ignore on unique
	// constraint violations.
	insertIgnore func(query string) string

	// lockSuffix is appended to a SELECT to take a row lock.
	lockSuffix string

	schema []string
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func onConflictDoNothing(query string) string {
	return strings.TrimRight(query, " \n\t") + " ON CONFLICT DO NOTHING"
}

func mysqlInsertIgnore(query string) string {
	return strings.Replace(query, "INSERT INTO", "INSERT IGNORE INTO", 1)
}

// placeholders returns "?, ?, ..." with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
