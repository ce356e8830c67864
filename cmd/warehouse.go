package main

import (
	"context"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/runmeta"
	"github.com/sells-group/stageload/internal/warehouse"
)

// openWarehouse validates the config for mode, connects the named warehouse
// (the default when name is empty) and makes sure the run tables exist.
func openWarehouse(ctx context.Context, c *config.Config, mode, name string) (warehouse.Warehouse, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	whCfg, err := c.Warehouse(name)
	if err != nil {
		return nil, err
	}
	wh, err := warehouse.Open(ctx, whCfg)
	if err != nil {
		return nil, err
	}
	if err := runmeta.Migrate(ctx, wh, c.Metadata); err != nil {
		_ = wh.Close()
		return nil, err
	}
	return wh, nil
}
