package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/warehouse"
)

const stage = "persist"

// Strictness policies for rows that fail a cast.
const (
	Strict  = "strict"
	Lenient = "lenient"
)

// PersistResult counts what happened to the staged rows.
type PersistResult struct {
	Read       int   `json:"read"`
	Written    int64 `json:"written"`
	Filtered   int   `json:"filtered"`
	Dropped    int   `json:"dropped"`
	Duplicates int   `json:"duplicates"`
}

// Persister moves rows from the staging table into the persisted table.
type Persister struct {
	wh         warehouse.Warehouse
	staging    warehouse.TableRef
	persisted  warehouse.TableRef
	columns    []string
	caster     *Caster
	filter     *Filter
	mode       warehouse.Mode
	strictness string
	written    [][]any
	log        *zap.Logger
}

// NewPersister builds a Persister for a dataset. Bad cast rules and filters are
// ConfigurationErrors.
func NewPersister(wh warehouse.Warehouse, ds *config.DatasetConfig) (*Persister, error) {
	caster, err := NewCaster(ds.Columns, ds.Persisted.Casts)
	if err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, stage, err)
	}
	filter, err := NewFilter(ds.Persisted.Filter)
	if err != nil {
		return nil, etlerr.New(etlerr.ConfigurationError, stage, err)
	}
	mode := warehouse.ModeOverwrite
	if ds.Persisted.Mode == string(warehouse.ModeAppend) {
		mode = warehouse.ModeAppend
	}
	strictness := ds.Persisted.Strictness
	if strictness == "" {
		strictness = Strict
	}
	return &Persister{
		wh:         wh,
		staging:    warehouse.Ref(ds.Staging.TableConfig),
		persisted:  warehouse.Ref(ds.Persisted.TableConfig),
		columns:    ds.Columns,
		caster:     caster,
		filter:     filter,
		mode:       mode,
		strictness: strictness,
		log:        zap.L().With(zap.String("component", "persist"), zap.String("table", ds.Persisted.Table)),
	}, nil
}

// ColumnDefs describes the persisted table.
func (p *Persister) ColumnDefs() []warehouse.ColumnDef {
	return p.caster.ColumnDefs()
}

// Written returns the rows the latest Run wrote to the persisted table.
func (p *Persister) Written() [][]any { return p.written }

// Run reads every staged row, casts, filters and de-duplicates it, then writes
// the survivors. In overwrite mode the persisted table is cleared in the same
// write.
func (p *Persister) Run(ctx context.Context) (PersistResult, error) {
	var res PersistResult
	p.written = nil

	d := p.wh.Dialect()
	quoted := make([]string, len(p.columns))
	for i, c := range p.columns {
		quoted[i] = d.Quote(c)
	}
	staged, err := p.wh.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), d.Table(p.staging)))
	if err != nil {
		return res, err
	}
	res.Read = staged.Len()

	seen := make(map[string]struct{}, staged.Len())
	out := make([][]any, 0, staged.Len())
	for i, row := range staged.Rows {
		cast, err := p.caster.Row(row)
		if err != nil {
			var ce *CastError
			if !errors.As(err, &ce) {
				return res, etlerr.New(etlerr.TransformError, stage, err)
			}
			if p.strictness == Strict {
				return res, etlerr.Column(etlerr.TransformError, stage, ce.Column,
					eris.Wrapf(err, "transform: staged row %d", i))
			}
			p.log.Debug("dropping row",
				zap.Int("row", i),
				zap.String("column", ce.Column),
				zap.Error(ce.Err),
			)
			res.Dropped++
			continue
		}

		keep, err := p.filter.Keep(p.columns, cast)
		if err != nil {
			return res, etlerr.New(etlerr.TransformError, stage, eris.Wrapf(err, "transform: staged row %d", i))
		}
		if !keep {
			res.Filtered++
			continue
		}

		k := rowKey(cast)
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, cast)
	}

	n, err := p.wh.BulkWrite(ctx, p.persisted, p.columns, out, warehouse.WriteOptions{Mode: p.mode})
	if err != nil {
		return res, err
	}
	res.Written = n
	p.written = out

	p.log.Info("persisted rows",
		zap.Int("read", res.Read),
		zap.Int64("written", res.Written),
		zap.Int("filtered", res.Filtered),
		zap.Int("dropped", res.Dropped),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// rowKey identifies a row for exact-match de-duplication. NULL and the empty
// string are distinct.
func rowKey(row []any) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if v == nil {
			b.WriteString("\x00")
			continue
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String()
}
