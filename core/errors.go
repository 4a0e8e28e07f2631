package core

import (
	"errors"
	"fmt"
)

// Client errors of the table API. Handlers map them to HTTP status codes.
var (
	ErrInvalidTableName     = errors.New("invalid table name")
	ErrMissingID            = errors.New("missing id")
	ErrInvalidPayload       = errors.New("invalid JSON payload")
	ErrUnsupportedMediaType = errors.New("content type must be application/json")
	ErrEmptyFieldSet        = errors.New("no valid fields provided, expected at least one of x_01 to x_20")
	ErrNotFound             = errors.New("record not found")
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrTableConflict        = errors.New("table exists with an incompatible layout")
)

// DatastoreFault wraps an error returned by the underlying SQL engine.
// Op names the failing step, e.g. "provision", "insert" or "update".
type DatastoreFault struct {
	Op  string
	Err error
}

func (e *DatastoreFault) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying datastore error
func (e *DatastoreFault) Unwrap() error {
	return e.Err
}

// Fault wraps err into a DatastoreFault for operation op. A nil err stays nil.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatastoreFault{Op: op, Err: err}
}
