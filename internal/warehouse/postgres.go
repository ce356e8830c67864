package warehouse

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/db"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
)

// Postgres is a Warehouse over a pgx pool. Bulk writes use COPY.
type Postgres struct {
	pool db.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects a pool from cfg.DSN.
func OpenPostgres(ctx context.Context, cfg config.WarehouseConfig) (*Postgres, error) {
	pool, err := db.Connect(ctx, cfg.DSN, &db.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	if err != nil {
		return nil, etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrap(err, "warehouse: connect postgres"))
	}
	return NewPostgres(pool), nil
}

// Dialect implements Warehouse.
func (p *Postgres) Dialect() Dialect { return postgresDialect{} }

// Exec implements Warehouse.
func (p *Postgres) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, statementError(query, err)
	}
	return tag.RowsAffected(), nil
}

// Query implements Warehouse.
func (p *Postgres) Query(ctx context.Context, query string, args ...any) (*record.Table, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, statementError(query, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	out := &record.Table{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		out.Columns[i] = fd.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, statementError(query, err)
		}
		for i, v := range vals {
			vals[i] = pgValue(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(query, err)
	}
	return out, nil
}

// BulkWrite implements Warehouse. Preparing the table and the COPY share one
// transaction.
func (p *Postgres) BulkWrite(ctx context.Context, t TableRef, cols []string, rows [][]any, opts WriteOptions) (int64, error) {
	if err := validateWrite(t, cols, rows, opts); err != nil {
		return 0, writeError(t, err)
	}
	n, err := db.Load(ctx, p.pool, db.LoadConfig{
		Schema:  t.Schema,
		Table:   t.Name,
		Columns: cols,
		Replace: opts.Mode == ModeOverwrite,
		Create:  opts.AutoCreate,
	}, rows)
	if err != nil {
		return 0, writeError(t, err)
	}
	return n, nil
}

// Close implements Warehouse.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgValue converts driver-specific values to plain Go values.
func pgValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		return dv
	case []byte:
		return string(x)
	default:
		return v
	}
}
