package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/internal/warehouse"
)

// Warehouse reads one result set from a warehouse connection. The batch
// header is the result set's column list.
type Warehouse struct {
	cfg     config.WarehouseSource
	columns []string
	wh      warehouse.Warehouse
	log     *zap.Logger
}

// NewWarehouse creates a warehouse source over wh, which the source owns and
// closes. columns are selected when no query is configured.
func NewWarehouse(cfg config.WarehouseSource, columns []string, wh warehouse.Warehouse) *Warehouse {
	return &Warehouse{
		cfg:     cfg,
		columns: columns,
		wh:      wh,
		log:     zap.L().With(zap.String("component", "source.warehouse"), zap.String("dialect", wh.Dialect().Name())),
	}
}

// Name implements Source.
func (w *Warehouse) Name() string {
	if w.cfg.Table.Table != "" {
		return "warehouse:" + warehouse.Ref(w.cfg.Table).String()
	}
	return "warehouse:query"
}

// SQL returns the statement Extract runs.
func (w *Warehouse) SQL() string {
	if w.cfg.Query != "" {
		return w.cfg.Query
	}
	d := w.wh.Dialect()
	list := "*"
	if len(w.columns) > 0 {
		quoted := make([]string, len(w.columns))
		for i, c := range w.columns {
			quoted[i] = d.Quote(c)
		}
		list = strings.Join(quoted, ", ")
	}
	return fmt.Sprintf("SELECT %s FROM %s", list, d.Table(warehouse.Ref(w.cfg.Table)))
}

// Extract runs the query and returns its rows as one batch.
func (w *Warehouse) Extract(ctx context.Context) ([]record.Batch, error) {
	tbl, err := w.wh.Query(ctx, w.SQL())
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrapf(err, "source: query %s", w.Name()))
	}
	b := record.Batch{
		Name:    w.Name(),
		Columns: append(make([]string, 0, len(tbl.Columns)), tbl.Columns...),
		Records: make([]record.Record, len(tbl.Rows)),
	}
	for i, row := range tbl.Rows {
		rec := make(record.Record, len(tbl.Columns))
		for j, c := range tbl.Columns {
			rec[c] = row[j]
		}
		b.Records[i] = rec
	}
	w.log.Info("query read", zap.Int("records", b.Len()))
	return []record.Batch{b}, nil
}

// Close releases the source connection.
func (w *Warehouse) Close() error {
	return w.wh.Close()
}
