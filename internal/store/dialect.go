// ABOUTME: SQL dialect differences between the SQLite and Postgres backends
// ABOUTME: Handles placeholder rebinding, row locking, and unique-violation detection

package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type dialect struct {
	name string

	// numbered placeholders ($1, $2) instead of ?
	numbered bool

	// suffix that locks a selected row for the rest of the transaction
	lockRow string

	uniqueViolation func(error) bool
}

var sqliteDialect = dialect{
	name:            "sqlite",
	uniqueViolation: isConstraintViolation,
}

var postgresDialect = dialect{
	name:            "postgres",
	numbered:        true,
	lockRow:         " FOR UPDATE",
	uniqueViolation: isUniqueViolation,
}

// rebind rewrites ? placeholders for the dialect. Queries never contain a
// literal question mark.
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

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isUniqueViolation checks for Postgres unique_violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
