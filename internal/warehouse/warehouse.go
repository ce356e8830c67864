// Package warehouse is the narrow SQL and bulk-write interface the load
// stages use to reach the destination database.
package warehouse

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
)

const stage = "warehouse"

// TableRef names a table, optionally schema-qualified.
type TableRef struct {
	Schema string
	Name   string
}

// Ref builds a TableRef from dataset config.
func Ref(t config.TableConfig) TableRef {
	return TableRef{Schema: t.Schema, Name: t.Table}
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Mode selects how BulkWrite treats existing rows.
type Mode string

// Write modes.
const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
)

// WriteOptions configures BulkWrite. With ModeOverwrite, AutoCreate drops and
// recreates the table with TEXT columns; without it the table is truncated.
// With ModeAppend, AutoCreate creates a missing table.
type WriteOptions struct {
	Mode       Mode
	AutoCreate bool
}

// Warehouse is a connected destination database.
type Warehouse interface {
	Dialect() Dialect
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (*record.Table, error)
	BulkWrite(ctx context.Context, t TableRef, cols []string, rows [][]any, opts WriteOptions) (int64, error)
	Close() error
}

// Open connects to the configured warehouse.
func Open(ctx context.Context, cfg config.WarehouseConfig) (Warehouse, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case DriverSnowflake:
		return OpenSnowflake(ctx, cfg)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, etlerr.New(etlerr.ConfigurationError, stage,
			eris.Errorf("warehouse: unknown driver %q", cfg.Driver))
	}
}

// EnsureTable creates t if it does not exist.
func EnsureTable(ctx context.Context, wh Warehouse, t TableRef, cols []ColumnDef, unique []string) error {
	_, err := wh.Exec(ctx, wh.Dialect().CreateTable(t, cols, unique))
	return err
}

func writeError(t TableRef, err error) error {
	return etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrapf(err, "warehouse: write %s", t))
}

func statementError(query string, err error) error {
	return etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrapf(err, "warehouse: %s", summarize(query)))
}

// summarize trims a statement for error messages; values are never bound
// inline, so the text carries no row data.
func summarize(query string) string {
	const maxLen = 120
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}

func writeStatements(d Dialect, t TableRef, cols []string, opts WriteOptions) []string {
	textCols := make([]ColumnDef, len(cols))
	for i, c := range cols {
		textCols[i] = ColumnDef{Name: c, Kind: KindText}
	}
	switch {
	case opts.Mode == ModeOverwrite && opts.AutoCreate:
		return []string{d.DropTable(t), d.CreateTable(t, textCols, nil)}
	case opts.Mode == ModeOverwrite:
		return []string{d.Truncate(t)}
	case opts.AutoCreate:
		return []string{d.CreateTable(t, textCols, nil)}
	default:
		return nil
	}
}

func validateWrite(t TableRef, cols []string, rows [][]any, opts WriteOptions) error {
	if t.Name == "" {
		return eris.New("warehouse: table name is required")
	}
	if len(cols) == 0 {
		return eris.Errorf("warehouse: no columns for %s", t)
	}
	switch opts.Mode {
	case ModeAppend, ModeOverwrite:
	default:
		return eris.Errorf("warehouse: unknown write mode %q", opts.Mode)
	}
	for i, row := range rows {
		if len(row) != len(cols) {
			return eris.Errorf("warehouse: row %d has %d values, want %d", i, len(row), len(cols))
		}
	}
	return nil
}
