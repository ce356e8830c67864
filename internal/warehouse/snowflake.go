package warehouse

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
)

// SnowflakeDSN returns cfg.DSN without a "snowflake://" prefix, or builds one
// from the discrete connection fields.
func SnowflakeDSN(cfg config.WarehouseConfig) (string, error) {
	if cfg.DSN != "" {
		dsn := strings.TrimPrefix(cfg.DSN, "snowflake://")
		if _, err := sf.ParseDSN(dsn); err != nil {
			return "", eris.Wrap(err, "snowflake: parse dsn")
		}
		return dsn, nil
	}
	s := cfg.Snowflake
	dsn, err := sf.DSN(&sf.Config{
		Account:   s.Account,
		User:      s.User,
		Password:  s.Password,
		Database:  s.Database,
		Schema:    s.Schema,
		Warehouse: s.Warehouse,
		Role:      s.Role,
	})
	if err != nil {
		return "", eris.Wrap(err, "snowflake: build dsn")
	}
	return dsn, nil
}

// OpenSnowflake connects through the gosnowflake database/sql driver.
func OpenSnowflake(ctx context.Context, cfg config.WarehouseConfig) (*SQLDB, error) {
	dsn, err := SnowflakeDSN(cfg)
	if err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, stage, err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrap(err, "snowflake: open"))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, etlerr.New(etlerr.WarehouseWriteError, stage, eris.Wrap(err, "snowflake: ping"))
	}
	return NewSQLDB(db, snowflakeDialect{}, cfg.BatchSize), nil
}
