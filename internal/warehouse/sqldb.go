package warehouse

import (
	"context"
	"database/sql"

	"github.com/sells-group/stageload/internal/record"
)

// maxBindParams keeps multi-row INSERTs under the smallest driver limit.
const maxBindParams = 999

// SQLDB is a Warehouse over database/sql, used for SQLite and Snowflake. Bulk
// writes are batched multi-row INSERTs in one transaction.
type SQLDB struct {
	db        *sql.DB
	dialect   Dialect
	batchSize int
}

// NewSQLDB wraps an open database handle. batchSize <= 0 uses 500 rows.
func NewSQLDB(db *sql.DB, dialect Dialect, batchSize int) *SQLDB {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SQLDB{db: db, dialect: dialect, batchSize: batchSize}
}

// Dialect implements Warehouse.
func (w *SQLDB) Dialect() Dialect { return w.dialect }

// Exec implements Warehouse.
func (w *SQLDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, statementError(query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers do not report affected rows for DDL.
		return 0, nil
	}
	return n, nil
}

// Query implements Warehouse.
func (w *SQLDB) Query(ctx context.Context, query string, args ...any) (*record.Table, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, statementError(query, err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, statementError(query, err)
	}
	out := &record.Table{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, statementError(query, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(query, err)
	}
	return out, nil
}

// BulkWrite implements Warehouse.
func (w *SQLDB) BulkWrite(ctx context.Context, t TableRef, cols []string, rows [][]any, opts WriteOptions) (int64, error) {
	if err := validateWrite(t, cols, rows, opts); err != nil {
		return 0, writeError(t, err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeError(t, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range writeStatements(w.dialect, t, cols, opts) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, writeError(t, err)
		}
	}

	per := w.batchSize
	if limit := maxBindParams / len(cols); limit < per {
		per = max(limit, 1)
	}
	args := make([]any, 0, per*len(cols))
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		args = args[:0]
		for _, row := range rows[start:end] {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, w.dialect.Insert(t, cols, end-start), args...); err != nil {
			return 0, writeError(t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, writeError(t, err)
	}
	return int64(len(rows)), nil
}

// Close implements Warehouse.
func (w *SQLDB) Close() error {
	return w.db.Close()
}
