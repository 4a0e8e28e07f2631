package csql

import (
	"strconv"
	"strings"
)

// Dialect is the SQL flavour of a database. Its value is the database/sql driver name.
type Dialect string

// supported dialects
const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// QuoteIdent quotes an identifier. Embedded double quotes are doubled, so the
// result is always a single identifier token. Both dialects use standard SQL quoting.
func (d Dialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Placeholder returns the positional parameter marker for the n-th parameter, starting at 1
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// AutoIncrementPrimaryKey returns the column type of an integer primary key
// which the database assigns on insert
func (d Dialect) AutoIncrementPrimaryKey() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// SupportsLastInsertID returns true if sql.Result.LastInsertId works for the dialect.
// Others need a RETURNING clause.
func (d Dialect) SupportsLastInsertID() bool {
	return d == SQLite
}
