// Package pipeline runs one dataset through extract, normalize, stage,
// persist and merge, recording the run in the operational log.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/merge"
	"github.com/sells-group/stageload/internal/normalize"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/internal/runmeta"
	"github.com/sells-group/stageload/internal/source"
	"github.com/sells-group/stageload/internal/transform"
	"github.com/sells-group/stageload/internal/warehouse"
)

// PhaseStatus is the outcome of one phase.
type PhaseStatus string

// Phase statuses.
const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// Phase names.
const (
	PhasePrepare   = "prepare"
	PhaseExtract   = "extract"
	PhaseNormalize = "normalize"
	PhaseStage     = "stage"
	PhasePersist   = "persist"
	PhaseMerge     = "merge"
	PhaseAck       = "ack"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string      `json:"name"`
	Batch    string      `json:"batch,omitempty"`
	Status   PhaseStatus `json:"status"`
	Rows     int64       `json:"rows"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// Result summarises a run.
type Result struct {
	Dataset   string                  `json:"dataset"`
	Task      string                  `json:"task"`
	RunID     string                  `json:"run_id"`
	Batches   int                     `json:"batches"`
	Staged    int64                   `json:"staged"`
	Persisted transform.PersistResult `json:"persisted"`
	Merged    int64                   `json:"merged"`
	Elapsed   time.Duration           `json:"elapsed"`
	Phases    []PhaseResult           `json:"phases"`
}

// Pipeline orchestrates one run of a dataset.
type Pipeline struct {
	ds         *config.DatasetConfig
	wh         warehouse.Warehouse
	src        source.Source
	normalizer *normalize.Normalizer
	stager     *Stager
	persister  *transform.Persister
	merger     *merge.Merger
	recorder   *runmeta.Recorder
	log        *zap.Logger
}

// New creates a Pipeline. Invalid cast, filter or key settings are
// ConfigurationErrors.
func New(ds *config.DatasetConfig, wh warehouse.Warehouse, src source.Source, recorder *runmeta.Recorder) (*Pipeline, error) {
	persister, err := transform.NewPersister(wh, ds)
	if err != nil {
		return nil, err
	}
	merger, err := merge.New(wh, ds)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		ds:         ds,
		wh:         wh,
		src:        src,
		normalizer: &normalize.Normalizer{Columns: ds.Columns, Separator: ds.Separator},
		stager:     NewStager(wh, ds.Staging),
		persister:  persister,
		merger:     merger,
		recorder:   recorder,
		log: zap.L().With(
			zap.String("component", "pipeline"),
			zap.String("dataset", ds.Name),
			zap.String("task", ds.Task.Name),
		),
	}, nil
}

// Run executes the run. Every stage is sequential and the first error aborts
// the run; the task is then marked failed and the stage error returned. The
// source and warehouse are left open for the caller to close.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Dataset: p.ds.Name, Task: p.ds.Task.Name}

	if err := p.recorder.Begin(ctx); err != nil {
		return res, err
	}
	res.RunID = p.recorder.RunID()
	p.log.Info("pipeline: starting run", zap.String("run_id", res.RunID), zap.String("source", p.src.Name()))

	if err := p.run(ctx, res); err != nil {
		res.Elapsed = time.Since(start)
		// The run context may already be cancelled; the failure is still recorded.
		if failErr := p.recorder.Fail(context.WithoutCancel(ctx), err); failErr != nil {
			p.log.Warn("pipeline: failed to record failure", zap.Error(failErr))
		}
		p.log.Error("pipeline: run failed", zap.String("run_id", res.RunID), zap.Error(err))
		return res, err
	}

	if err := p.recorder.Complete(ctx); err != nil {
		res.Elapsed = time.Since(start)
		return res, err
	}
	res.Elapsed = time.Since(start)
	p.log.Info("pipeline: run complete",
		zap.String("run_id", res.RunID),
		zap.Int("batches", res.Batches),
		zap.Int64("staged", res.Staged),
		zap.Int64("persisted", res.Persisted.Written),
		zap.Int64("merged", res.Merged),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result) error {
	if p.ds.CreateTables {
		if err := p.track(res, PhasePrepare, "", func() (int64, error) {
			return 0, p.prepare(ctx)
		}); err != nil {
			return err
		}
	}

	var batches []record.Batch
	if err := p.track(res, PhaseExtract, "", func() (int64, error) {
		var err error
		batches, err = p.src.Extract(ctx)
		var n int64
		for _, b := range batches {
			n += int64(b.Len())
		}
		return n, err
	}); err != nil {
		return err
	}
	res.Batches = len(batches)

	ack, _ := p.src.(source.Acknowledger)
	for _, b := range batches {
		if err := p.load(ctx, res, b); err != nil {
			return err
		}
		if ack == nil {
			continue
		}
		if err := p.track(res, PhaseAck, b.Name, func() (int64, error) {
			return 0, ack.Ack(ctx, b)
		}); err != nil {
			return err
		}
	}
	return nil
}

// load carries one batch from normalization through the merge.
func (p *Pipeline) load(ctx context.Context, res *Result, b record.Batch) error {
	var table *record.Table
	if err := p.track(res, PhaseNormalize, b.Name, func() (int64, error) {
		var err error
		table, err = p.normalizer.Normalize(b)
		if err != nil {
			return 0, err
		}
		return int64(table.Len()), nil
	}); err != nil {
		return err
	}

	if err := p.track(res, PhaseStage, b.Name, func() (int64, error) {
		n, err := p.stager.Load(ctx, table)
		res.Staged += n
		return n, err
	}); err != nil {
		return err
	}

	if err := p.track(res, PhasePersist, b.Name, func() (int64, error) {
		pr, err := p.persister.Run(ctx)
		res.Persisted.Read += pr.Read
		res.Persisted.Written += pr.Written
		res.Persisted.Filtered += pr.Filtered
		res.Persisted.Dropped += pr.Dropped
		res.Persisted.Duplicates += pr.Duplicates
		return pr.Written, err
	}); err != nil {
		return err
	}

	return p.track(res, PhaseMerge, b.Name, func() (int64, error) {
		n, err := p.merger.Run(ctx, p.persister.Written())
		res.Merged += n
		return n, err
	})
}

// prepare creates the staging, persisted and presentation tables when they do
// not exist. The presentation table carries a unique key on the natural key
// columns so the merge can match on it.
func (p *Pipeline) prepare(ctx context.Context) error {
	if !p.ds.Staging.AutoCreate {
		textCols := make([]warehouse.ColumnDef, len(p.ds.Columns))
		for i, c := range p.ds.Columns {
			textCols[i] = warehouse.ColumnDef{Name: c, Kind: warehouse.KindText}
		}
		if err := warehouse.EnsureTable(ctx, p.wh, p.stager.Table(), textCols, nil); err != nil {
			return err
		}
	}
	defs := p.persister.ColumnDefs()
	if err := warehouse.EnsureTable(ctx, p.wh, warehouse.Ref(p.ds.Persisted.TableConfig), defs, nil); err != nil {
		return err
	}
	return warehouse.EnsureTable(ctx, p.wh, warehouse.Ref(p.ds.Presentation.TableConfig), defs, p.merger.Keys())
}

// track runs fn as a named phase and records its outcome on res.
func (p *Pipeline) track(res *Result, name, batch string, fn func() (int64, error)) error {
	start := time.Now()
	rows, err := fn()
	phase := PhaseResult{
		Name:     name,
		Batch:    batch,
		Rows:     rows,
		Duration: time.Since(start).Milliseconds(),
		Status:   PhaseStatusComplete,
	}
	log := p.log.With(zap.String("phase", name), zap.String("batch", batch), zap.Int64("duration_ms", phase.Duration))
	if err != nil {
		phase.Status = PhaseStatusFailed
		phase.Error = err.Error()
		log.Error("pipeline: phase failed", zap.Error(err))
	} else {
		log.Debug("pipeline: phase complete", zap.Int64("rows", rows))
	}
	res.Phases = append(res.Phases, phase)
	return err
}

// Failed returns the failed phase of a run, if any.
func (r *Result) Failed() (PhaseResult, bool) {
	for _, ph := range r.Phases {
		if ph.Status == PhaseStatusFailed {
			return ph, true
		}
	}
	return PhaseResult{}, false
}
