package dyntable

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/tablerest/core"
	"github.com/relabs-tech/tablerest/core/csql"
	"github.com/relabs-tech/tablerest/core/logger"
)

// Provisioner creates generic tables on first use
type Provisioner struct {
	db *csql.DB
}

// NewProvisioner returns a provisioner for db
func NewProvisioner(db *csql.DB) *Provisioner {
	return &Provisioner{db: db}
}

// createStatement returns the DDL for a generic table
func createStatement(db *csql.DB, name string) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(db.Table(name))
	sb.WriteString(" (")
	sb.WriteString(IDColumn + " " + db.Dialect.AutoIncrementPrimaryKey())
	for i := 1; i <= FieldCount; i++ {
		sb.WriteString(", " + FieldName(i) + " TEXT")
	}
	sb.WriteString(")")
	return sb.String()
}

// Check returns nil if name is a generic table. A missing table gives core.ErrNotFound,
// a table with any other layout core.ErrTableConflict. Catalog errors are returned as
// *core.DatastoreFault with Op "catalog".
func (p *Provisioner) Check(ctx context.Context, name string) error {
	columns, err := p.db.TableColumns(ctx, name)
	if err != nil {
		return core.Fault("catalog", err)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: no such table %s", core.ErrNotFound, name)
	}
	if !genericLayout(columns) {
		return fmt.Errorf("%w: %s is not a generic table", core.ErrTableConflict, name)
	}
	return nil
}

// IsGeneric returns true if name exists and has the generic layout
func (p *Provisioner) IsGeneric(ctx context.Context, name string) (bool, error) {
	err := p.Check(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrTableConflict) {
		return false, nil
	}
	return false, err
}

// genericLayout returns true for an id column plus any subset of the field columns
func genericLayout(columns []string) bool {
	known := map[string]bool{}
	for _, column := range Columns() {
		known[column] = true
	}
	hasID := false
	for _, column := range columns {
		column = strings.ToLower(column)
		if !known[column] {
			return false
		}
		hasID = hasID || column == IDColumn
	}
	return hasID
}

// EnsureTable creates the generic table name unless it exists already. It is safe to
// call concurrently for the same name. When CREATE fails because another session created
// the table in the meantime, which postgres reports as a unique violation on its catalog,
// the table is checked again and the error is dropped.
//
// A table with a foreign layout gives core.ErrTableConflict, other errors are returned as
// *core.DatastoreFault with Op "provision".
func (p *Provisioner) EnsureTable(ctx context.Context, name string) error {
	rlog := logger.FromContext(ctx)
	err := p.Check(ctx, name)
	if !errors.Is(err, core.ErrNotFound) {
		return provisionFault(err)
	}
	rlog.Infof("creating generic table %s", name)
	_, err = p.db.ExecContext(ctx, createStatement(p.db, name))
	if err == nil {
		return nil
	}
	if p.Check(ctx, name) == nil {
		rlog.WithError(err).Debugf("generic table %s was created concurrently", name)
		return nil
	}
	return core.Fault("provision", err)
}

// provisionFault reports catalog faults during provisioning as provision faults
func provisionFault(err error) error {
	var fault *core.DatastoreFault
	if errors.As(err, &fault) {
		return core.Fault("provision", fault.Err)
	}
	return err
}
