/*
Package contacts provides access to legacy contact tables.

A contact table has the fixed columns id, name, email, message and created_at. Unlike
generic tables, contact tables are never created by this package: a missing table is
reported as core.ErrNotFound, just like a missing row, and a table with other columns as
core.ErrTableConflict.
*/
package contacts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/csql"
	"github.com/relabs-tech/tablerest/core/dyntable"
	"github.com/relabs-tech/tablerest/core/pointers"
	"github.com/relabs-tech/tablerest/core/schema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schema ids of the embedded payload schemas
const (
	CreateSchemaID = "https://relabs.tech/schemas/tablerest/contact.json"
	UpdateSchemaID = "https://relabs.tech/schemas/tablerest/contact_update.json"
)

// Columns are the writable columns of a contact
var Columns = []string{"name", "email", "message"}

// Contact is a row of a contact table
type Contact struct {
	ID        int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Name      *string   `json:"name" gorm:"column:name"`
	Email     *string   `json:"email" gorm:"column:email"`
	Message   *string   `json:"message" gorm:"column:message"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// Store reads and writes contact tables
type Store struct {
	db        *gorm.DB
	schema    string
	validator *schema.Validator
}

// New returns a store which shares the connection pool of db
func New(db *csql.DB) (*Store, error) {
	var dialector gorm.Dialector
	switch db.Dialect {
	case csql.Postgres:
		dialector = postgres.New(postgres.Config{Conn: db.DB})
	case csql.SQLite:
		dialector = sqlite.New(sqlite.Config{DriverName: string(csql.SQLite), Conn: db.DB})
	default:
		return nil, fmt.Errorf("unsupported dialect %s", db.Dialect)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	schemas, err := fs.Sub(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidatorFromFS(schemas)
	if err != nil {
		return nil, err
	}

	s := &Store{db: gdb, validator: validator}
	if db.Dialect == csql.Postgres {
		s.schema = db.Schema
	}
	return s, nil
}

// table returns the qualified table name, gorm takes care of the quoting
func (s *Store) table(name string) string {
	if s.schema != "" {
		return s.schema + "." + name
	}
	return name
}

// translate maps gorm and driver errors to the core error taxonomy
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || csql.IsInvalidInput(err) {
		return core.ErrNotFound
	}
	return core.Fault(op, err)
}

// CheckTable returns nil if table is a contact table. A missing table gives
// core.ErrNotFound, a table without the contact columns core.ErrTableConflict.
func (s *Store) CheckTable(ctx context.Context, table string) error {
	migrator := s.db.WithContext(ctx).Migrator()
	if !migrator.HasTable(s.table(table)) {
		return fmt.Errorf("%w: no such table %s", core.ErrNotFound, table)
	}
	for _, column := range append([]string{"id"}, Columns...) {
		if !migrator.HasColumn(s.table(table), column) {
			return fmt.Errorf("%w: %s is not a contact table", core.ErrTableConflict, table)
		}
	}
	return nil
}

// List returns all contacts, newest first
func (s *Store) List(ctx context.Context, table string) ([]Contact, error) {
	contacts := []Contact{}
	err := s.db.WithContext(ctx).Table(s.table(table)).Order("id DESC").Find(&contacts).Error
	return contacts, translate("list", err)
}

// Get returns the contact with the given id
func (s *Store) Get(ctx context.Context, table, id string) (*Contact, error) {
	var contact Contact
	err := s.db.WithContext(ctx).Table(s.table(table)).Where("id = ?", id).Take(&contact).Error
	if err != nil {
		return nil, translate("read", err)
	}
	return &contact, nil
}

// Create inserts a new contact from a JSON request body. The body must match the contact
// schema. Returns the contact including its assigned id.
func (s *Store) Create(ctx context.Context, table string, body []byte) (*Contact, error) {
	payload, err := s.parse(body, CreateSchemaID)
	if err != nil {
		return nil, err
	}
	contact := Contact{
		Name:    stringValue(payload["name"]),
		Email:   stringValue(payload["email"]),
		Message: stringValue(payload["message"]),
	}
	err = s.db.WithContext(ctx).Table(s.table(table)).Create(&contact).Error
	if err != nil {
		return nil, translate("insert", err)
	}
	return &contact, nil
}

// Update writes the contact columns present in a JSON request body. Malformed JSON is reported
// first, then a missing row, then schema violations and an empty body. Returns the written
// columns and the number of changed rows.
func (s *Store) Update(ctx context.Context, table, id string, body []byte) (map[string]interface{}, int64, error) {
	payload, err := dyntable.ParsePayload(body)
	if err != nil {
		return nil, 0, err
	}
	var (
		changes  map[string]interface{}
		affected int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Contact
		if err := tx.Table(s.table(table)).Where("id = ?", id).Take(&existing).Error; err != nil {
			return translate("update", err)
		}
		if err := s.validate(body, UpdateSchemaID); err != nil {
			return err
		}
		changes = map[string]interface{}{}
		for _, column := range Columns {
			if value, ok := payload[column]; ok {
				changes[column] = value
			}
		}
		if len(changes) == 0 {
			return core.ErrEmptyFieldSet
		}
		result := tx.Table(s.table(table)).Where("id = ?", id).Updates(changes)
		if result.Error != nil {
			return translate("update", result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return changes, affected, nil
}

// Delete removes a contact. Returns the contact as it was before the delete and
// the number of deleted rows.
func (s *Store) Delete(ctx context.Context, table, id string) (*Contact, int64, error) {
	var (
		snapshot Contact
		affected int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table(table)).Where("id = ?", id).Take(&snapshot).Error; err != nil {
			return translate("delete", err)
		}
		result := tx.Table(s.table(table)).Where("id = ?", id).Delete(&Contact{})
		if result.Error != nil {
			return translate("delete", result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &snapshot, affected, nil
}

// parse parses body as JSON object and validates it against schemaID
func (s *Store) parse(body []byte, schemaID string) (map[string]interface{}, error) {
	payload, err := dyntable.ParsePayload(body)
	if err != nil {
		return nil, err
	}
	return payload, s.validate(body, schemaID)
}

func (s *Store) validate(body []byte, schemaID string) error {
	if err := s.validator.ValidateBytes(body, schemaID); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return nil
}

func stringValue(v interface{}) *string {
	if s, ok := v.(string); ok {
		return pointers.String(s)
	}
	return nil
}
