package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/internal/warehouse"
)

// Stager replaces the staging table's contents with one normalized table.
// Staging columns are text; casting happens in the persist step.
type Stager struct {
	wh         warehouse.Warehouse
	table      warehouse.TableRef
	autoCreate bool
	log        *zap.Logger
}

// NewStager creates a Stager for the configured staging table. With
// AutoCreate the table is dropped and recreated on every load; otherwise it
// is truncated.
func NewStager(wh warehouse.Warehouse, cfg config.StagingConfig) *Stager {
	return &Stager{
		wh:         wh,
		table:      warehouse.Ref(cfg.TableConfig),
		autoCreate: cfg.AutoCreate,
		log:        zap.L().With(zap.String("component", "stage"), zap.String("table", cfg.Table)),
	}
}

// Table returns the staging table.
func (s *Stager) Table() warehouse.TableRef { return s.table }

// Load overwrites the staging table with t's rows.
func (s *Stager) Load(ctx context.Context, t *record.Table) (int64, error) {
	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = Text(v)
		}
		rows[i] = out
	}

	start := time.Now()
	n, err := s.wh.BulkWrite(ctx, s.table, t.Columns, rows, warehouse.WriteOptions{
		Mode:       warehouse.ModeOverwrite,
		AutoCreate: s.autoCreate,
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("staged rows", zap.Int64("rows", n), zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// Text renders a normalized value for a text staging column. Nil stays NULL;
// arrays and objects are stored as JSON.
func Text(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []any, map[string]any, record.Record:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
