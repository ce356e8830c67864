package warehouse

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/stageload/internal/etlerr"
)

// OpenSQLite opens a SQLite database file and configures WAL mode.
func OpenSQLite(ctx context.Context, dsn string) (*SQLDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrap(err, "sqlite: open"))
	}
	// One connection keeps transactions and pragmas on the same handle.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrapf(err, "sqlite: exec %s", pragma))
		}
	}
	return NewSQLDB(db, sqliteDialect{}, 0), nil
}
