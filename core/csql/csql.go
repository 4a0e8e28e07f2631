// Package csql wraps a standard sql.DB together with the dialect specific bits the
// table API needs: identifier quoting, placeholders and the table catalog.
package csql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // load database driver for sqlite
)

// DB encapsulates a standard sql.DB with a schema and a dialect
type DB struct {
	*sql.DB
	Schema  string
	Dialect Dialect
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// Open opens a database for the given driver. Supported drivers are "sqlite3" and
// "postgres". For postgres, password is appended to the data source name and the
// schema gets created if it does not exist yet.
func Open(driver, dataSourceName, password, schema string) *DB {
	switch Dialect(driver) {
	case SQLite:
		return OpenSQLite(dataSourceName)
	case Postgres:
		return OpenWithSchema(dataSourceName, password, schema)
	}
	panic(fmt.Sprintf("unsupported database driver '%s'", driver))
}

// OpenSQLite opens a sqlite database. An empty data source name opens an in-memory database.
func OpenSQLite(dataSourceName string) *DB {
	if dataSourceName == "" {
		dataSourceName = ":memory:"
	}
	log.Println("opening sqlite database: ", dataSourceName)
	db, err := sql.Open(string(SQLite), dataSourceName)
	if err != nil {
		panic(err)
	}
	// sqlite serializes writers anyway, a single connection also keeps in-memory databases alive
	db.SetMaxOpenConns(1)
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	return &DB{DB: db, Dialect: SQLite}
}

// OpenWithSchema opens a postgres database with a schema.
// The schema gets created if it does not exist yet.
func OpenWithSchema(dataSourceName, password, schema string) *DB {
	log.Println("connecting to postgres database: ", dataSourceName)
	if len(password) > 0 {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open(string(Postgres), dataSourceName)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		log.Println("selected database schema:", schema)
		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + Postgres.QuoteIdent(schema) + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema, Dialect: Postgres}
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Dialect != Postgres {
		panic("schemas are only supported for postgres")
	}
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	schema := db.Dialect.QuoteIdent(db.Schema)
	_, err := db.Exec(`DROP SCHEMA ` + schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + schema + `;`)
	if err != nil {
		log.Println("clear schema error:", db.Schema, err.Error())
	}
}

// Table returns the quoted, schema qualified name of table. Every statement
// which references a caller supplied table name must go through this function.
func (db *DB) Table(name string) string {
	if db.Dialect == Postgres && db.Schema != "" {
		return db.Dialect.QuoteIdent(db.Schema) + "." + db.Dialect.QuoteIdent(name)
	}
	return db.Dialect.QuoteIdent(name)
}

// Placeholders returns the parameter markers for n consecutive parameters, starting at offset+1
func (db *DB) Placeholders(offset, n int) []string {
	result := make([]string, n)
	for i := 0; i < n; i++ {
		result[i] = db.Dialect.Placeholder(offset + i + 1)
	}
	return result
}

// TableExists queries the catalog for table name.
func (db *DB) TableExists(ctx context.Context, name string) (bool, error) {
	var query string
	var args []interface{}
	switch db.Dialect {
	case Postgres:
		query = `SELECT count(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`
		args = []interface{}{db.schemaOrPublic(), name}
	default:
		query = `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`
		args = []interface{}{name}
	}
	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// TableColumns returns the column names of table name in declaration order. A table
// which does not exist has no columns.
func (db *DB) TableColumns(ctx context.Context, name string) ([]string, error) {
	var query string
	var args []interface{}
	switch db.Dialect {
	case Postgres:
		query = `SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
		args = []interface{}{db.schemaOrPublic(), name}
	default:
		query = `SELECT name FROM pragma_table_info(?) ORDER BY cid`
		args = []interface{}{name}
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns := []string{}
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// ListTables returns the names of all user tables, sorted by name.
func (db *DB) ListTables(ctx context.Context) ([]string, error) {
	var query string
	var args []interface{}
	switch db.Dialect {
	case Postgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`
		args = []interface{}{db.schemaOrPublic()}
	default:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (db *DB) schemaOrPublic() string {
	if db.Schema == "" {
		return "public"
	}
	return db.Schema
}

// IsInvalidInput returns true if err is a postgres error about a parameter
// which cannot be converted to the column type, e.g. "abc" for an integer.
func IsInvalidInput(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "22P02"
	}
	return false
}

// ColumnList joins quoted column names with commas
func (db *DB) ColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = db.Dialect.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
