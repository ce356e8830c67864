// Package merge folds the persisted table into the presentation table by
// natural key.
package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/warehouse"
)

const stage = "merge"

// maxParams keeps one multi-row upsert under the smallest bind limit.
const maxParams = 999

// Presentation modes.
const (
	ModeMerge   = "merge"
	ModeReplace = "replace"
)

// Merger upserts persisted rows into a presentation table. Matching rows get
// every non-key column overwritten; the rest are inserted.
//
// A cumulative (append mode) persisted table keeps every earlier load, so one
// key can hold several values there. The merger then upserts only the rows
// written by the current batch, newest row per key last.
type Merger struct {
	wh           warehouse.Warehouse
	persisted    warehouse.TableRef
	presentation warehouse.TableRef
	columns      []string
	keys         []string
	mode         string
	cumulative   bool
	log          *zap.Logger
}

// New builds a Merger for a dataset.
func New(wh warehouse.Warehouse, ds *config.DatasetConfig) (*Merger, error) {
	mode := ds.Presentation.Mode
	if mode == "" {
		mode = ModeMerge
	}
	if err := checkKeys(ds.Columns, ds.Presentation.Keys, mode); err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, stage, err)
	}
	return &Merger{
		wh:           wh,
		persisted:    warehouse.Ref(ds.Persisted.TableConfig),
		presentation: warehouse.Ref(ds.Presentation.TableConfig),
		columns:      ds.Columns,
		keys:         ds.Presentation.Keys,
		mode:         mode,
		cumulative:   ds.Persisted.Mode == string(warehouse.ModeAppend),
		log:          zap.L().With(zap.String("component", "merge"), zap.String("table", ds.Presentation.Table)),
	}, nil
}

func checkKeys(columns, keys []string, mode string) error {
	switch mode {
	case ModeMerge:
		if len(keys) == 0 {
			return eris.New("merge: natural key columns are required")
		}
	case ModeReplace:
	default:
		return eris.Errorf("merge: unknown mode %q", mode)
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	for _, k := range keys {
		if !known[k] {
			return eris.Errorf("merge: key %q is not a column", k)
		}
	}
	return nil
}

// Keys returns the natural key columns.
func (m *Merger) Keys() []string { return m.keys }

// Run merges the persisted table and returns the rows the warehouse reports
// as affected. written holds the rows the persist step wrote for this batch;
// only a cumulative persisted table in merge mode reads them. Replace mode
// empties the presentation table first.
func (m *Merger) Run(ctx context.Context, written [][]any) (int64, error) {
	d := m.wh.Dialect()

	var (
		n   int64
		err error
	)
	switch m.mode {
	case ModeReplace:
		if _, err = m.wh.Exec(ctx, d.Truncate(m.presentation)); err != nil {
			return 0, err
		}
		n, err = m.wh.Exec(ctx, d.InsertSelect(m.presentation, m.persisted, m.columns))
	case ModeMerge:
		if m.cumulative {
			n, err = m.upsertRows(ctx, m.latestByKey(written))
			break
		}
		n, err = m.wh.Exec(ctx, d.UpsertSelect(m.presentation, m.persisted, m.columns, m.keys))
	}
	if err != nil {
		return 0, err
	}

	m.log.Info("merged rows",
		zap.String("mode", m.mode),
		zap.Strings("keys", m.keys),
		zap.Int64("affected", n),
	)
	return n, nil
}

// latestByKey keeps one row per natural key: the last one seen, in the
// position of the first.
func (m *Merger) latestByKey(rows [][]any) [][]any {
	idx := make([]int, len(m.keys))
	for i, k := range m.keys {
		for j, c := range m.columns {
			if c == k {
				idx[i] = j
			}
		}
	}

	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	var b strings.Builder
	for _, row := range rows {
		b.Reset()
		for _, j := range idx {
			if row[j] == nil {
				b.WriteString("\x00")
			} else {
				fmt.Fprintf(&b, "%T:%v", row[j], row[j])
			}
			b.WriteByte(0x1f)
		}
		k := b.String()
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

func (m *Merger) upsertRows(ctx context.Context, rows [][]any) (int64, error) {
	d := m.wh.Dialect()
	per := max(maxParams/len(m.columns), 1)

	var total int64
	args := make([]any, 0, per*len(m.columns))
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		args = args[:0]
		for _, row := range rows[start:end] {
			args = append(args, row...)
		}
		n, err := m.wh.Exec(ctx, d.UpsertRows(m.presentation, m.columns, m.keys, end-start), args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
