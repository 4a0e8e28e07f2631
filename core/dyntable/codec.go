package dyntable

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/tablerest/core"
)

// FieldCount is the number of generic data columns of a table
const FieldCount = 20

// IDColumn is the primary key column of a generic table
const IDColumn = "id_x"

// FieldName returns the name of the i-th data column, x_01 to x_20
func FieldName(i int) string {
	return fmt.Sprintf("x_%02d", i)
}

// Columns returns all columns of a generic table in table order
func Columns() []string {
	columns := []string{IDColumn}
	for i := 1; i <= FieldCount; i++ {
		columns = append(columns, FieldName(i))
	}
	return columns
}

// Field is a single column with its value
type Field struct {
	Name  string
	Value interface{}
}

// FieldSubset is the ordered list of data columns present in a payload
type FieldSubset []Field

// Names returns the column names of the subset
func (s FieldSubset) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Values returns the values of the subset, in column order
func (s FieldSubset) Values() []interface{} {
	values := make([]interface{}, len(s))
	for i, f := range s {
		values[i] = f.Value
	}
	return values
}

// Row is a table row as returned by the database, column name to value
type Row map[string]interface{}

// Encode selects the data columns x_01 to x_20 from payload. A key counts if it is present,
// even with a null value. Fields are always ordered by column index, unknown keys are ignored.
// Returns core.ErrEmptyFieldSet if no column is present.
func Encode(payload map[string]interface{}) (FieldSubset, error) {
	var fields FieldSubset
	for i := 1; i <= FieldCount; i++ {
		name := FieldName(i)
		if value, ok := payload[name]; ok {
			fields = append(fields, Field{Name: name, Value: value})
		}
	}
	if len(fields) == 0 {
		return nil, core.ErrEmptyFieldSet
	}
	return fields, nil
}

// ParsePayload parses a request body into a JSON object. Numbers are kept in their
// textual form as json.Number. Anything but a single JSON object is
// core.ErrInvalidPayload.
func ParsePayload(body []byte) (map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", core.ErrInvalidPayload)
	}
	var trailing interface{}
	if err := decoder.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after JSON object", core.ErrInvalidPayload)
	}
	return payload, nil
}

// scanRows reads all rows into column maps. Text returned as []byte by the driver
// is converted to string, so rows encode as JSON text rather than base64.
func scanRows(rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []Row{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := Row{}
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
