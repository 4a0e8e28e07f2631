package dyntable

import (
	"context"
	"database/sql"
	"strings"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/csql"
)

// snapshotColumns are returned for a deleted row
var snapshotColumns = []string{IDColumn, FieldName(1), FieldName(2)}

// Store reads and writes rows of generic tables. Table names must be valid, see ValidName.
//
// Datastore errors are returned as *core.DatastoreFault. Missing rows are
// core.ErrNotFound.
type Store struct {
	db *csql.DB
}

// NewStore returns a store for db
func NewStore(db *csql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryRows(ctx context.Context, q querier, query string, args ...interface{}) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// bindValue turns JSON numbers into their text, everything else is passed to the driver as is
func bindValue(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}

func bindValues(fields FieldSubset) []interface{} {
	values := fields.Values()
	for i := range values {
		values[i] = bindValue(values[i])
	}
	return values
}

// notFoundOr maps a postgres conversion error of the id parameter to core.ErrNotFound.
// Any id is a valid lookup key, it just might not match.
func notFoundOr(op string, err error) error {
	if csql.IsInvalidInput(err) {
		return core.ErrNotFound
	}
	return core.Fault(op, err)
}

// List returns all rows of table, newest first
func (s *Store) List(ctx context.Context, table string) ([]Row, error) {
	query := `SELECT * FROM ` + s.db.Table(table) + ` ORDER BY ` + IDColumn + ` DESC`
	rows, err := queryRows(ctx, s.db, query)
	if err != nil {
		return nil, core.Fault("list", err)
	}
	return rows, nil
}

// Get returns the row with primary key id
func (s *Store) Get(ctx context.Context, table, id string) (Row, error) {
	query := `SELECT * FROM ` + s.db.Table(table) + ` WHERE ` + IDColumn + ` = ` + s.db.Dialect.Placeholder(1)
	rows, err := queryRows(ctx, s.db, query, id)
	if err != nil {
		return nil, notFoundOr("read", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return rows[0], nil
}

// Insert inserts a new row with fields and returns the assigned id
func (s *Store) Insert(ctx context.Context, table string, fields FieldSubset) (int64, error) {
	query := `INSERT INTO ` + s.db.Table(table) +
		` (` + s.db.ColumnList(fields.Names()) + `) VALUES (` +
		strings.Join(s.db.Placeholders(0, len(fields)), ", ") + `)`

	var id int64
	if s.db.Dialect.SupportsLastInsertID() {
		res, err := s.db.ExecContext(ctx, query, bindValues(fields)...)
		if err != nil {
			return 0, core.Fault("insert", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, core.Fault("insert", err)
		}
		return id, nil
	}

	err := s.db.QueryRowContext(ctx, query+` RETURNING `+IDColumn, bindValues(fields)...).Scan(&id)
	if err != nil {
		return 0, core.Fault("insert", err)
	}
	return id, nil
}

// Update writes the data columns present in payload to the row with primary key id.
// Existence check and update run in one transaction. A missing row is reported before
// an empty payload. Returns the written fields and the number of changed rows.
func (s *Store) Update(ctx context.Context, table, id string, payload map[string]interface{}) (FieldSubset, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, core.Fault("update", err)
	}
	defer tx.Rollback()

	var found int
	query := `SELECT count(*) FROM ` + s.db.Table(table) + ` WHERE ` + IDColumn + ` = ` + s.db.Dialect.Placeholder(1)
	if err = tx.QueryRowContext(ctx, query, id).Scan(&found); err != nil {
		return nil, 0, notFoundOr("update", err)
	}
	if found == 0 {
		return nil, 0, core.ErrNotFound
	}

	fields, err := Encode(payload)
	if err != nil {
		return nil, 0, err
	}

	placeholders := s.db.Placeholders(0, len(fields)+1)
	assignments := make([]string, len(fields))
	for i, f := range fields {
		assignments[i] = s.db.Dialect.QuoteIdent(f.Name) + ` = ` + placeholders[i]
	}
	query = `UPDATE ` + s.db.Table(table) + ` SET ` + strings.Join(assignments, ", ") +
		` WHERE ` + IDColumn + ` = ` + placeholders[len(fields)]

	res, err := tx.ExecContext(ctx, query, append(bindValues(fields), id)...)
	if err != nil {
		return nil, 0, core.Fault("update", err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return nil, 0, core.Fault("update", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, core.Fault("update", err)
	}
	return fields, changes, nil
}

// Delete removes the row with primary key id. Returns a snapshot of the identifying
// columns taken before the delete and the number of deleted rows.
func (s *Store) Delete(ctx context.Context, table, id string) (Row, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, core.Fault("delete", err)
	}
	defer tx.Rollback()

	where := ` WHERE ` + IDColumn + ` = ` + s.db.Dialect.Placeholder(1)
	query := `SELECT ` + s.db.ColumnList(snapshotColumns) + ` FROM ` + s.db.Table(table) + where
	rows, err := queryRows(ctx, tx, query, id)
	if err != nil {
		return nil, 0, notFoundOr("delete", err)
	}
	if len(rows) == 0 {
		return nil, 0, core.ErrNotFound
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM `+s.db.Table(table)+where, id)
	if err != nil {
		return nil, 0, core.Fault("delete", err)
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return nil, 0, core.Fault("delete", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, core.Fault("delete", err)
	}
	return rows[0], changes, nil
}

// Count returns the number of rows in table
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.db.Table(table)).Scan(&count)
	return count, core.Fault("count", err)
}
