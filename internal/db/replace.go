package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// LoadConfig describes a COPY load into one table.
type LoadConfig struct {
	Schema  string
	Table   string
	Columns []string
	// Replace clears the table before loading.
	Replace bool
	// Create makes a TEXT-column table for Columns. With Replace the table is
	// dropped and recreated; without it a missing table is created.
	Create bool
}

// Load copies rows into a table inside one transaction. With Replace the
// table's prior contents are removed first, so a failed load leaves the old
// rows in place.
func Load(ctx context.Context, pool Pool, cfg LoadConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: load: no columns specified")
	}
	name := QualifiedName(cfg.Schema, cfg.Table)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: load: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range prepareStatements(Identifier(cfg.Schema, cfg.Table).Sanitize(), cfg) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "db: load: prepare %s", name)
		}
	}

	n, err := CopyFromSchema(ctx, tx, cfg.Schema, cfg.Table, cfg.Columns, rows)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: load: commit tx")
	}
	return n, nil
}

func prepareStatements(target string, cfg LoadConfig) []string {
	defs := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", target, strings.Join(defs, ", "))

	switch {
	case cfg.Replace && cfg.Create:
		return []string{"DROP TABLE IF EXISTS " + target, create}
	case cfg.Replace:
		return []string{"TRUNCATE TABLE " + target}
	case cfg.Create:
		return []string{create}
	default:
		return nil
	}
}
