// Package runmeta records per-task run state in an operational log table and
// archives completed runs into a history table.
package runmeta

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/warehouse"
)

// State is a task's position in the run lifecycle.
type State string

// Run states.
const (
	NotStarted State = "not_started"
	Running    State = "running"
	Completed  State = "completed"
	Failed     State = "failed"
)

// Column names shared by the task and history tables.
const (
	colTask        = "task_name"
	colDescription = "description"
	colFrequency   = "frequency"
	colDayOfWeek   = "day_of_week"
	colTimeOfDay   = "time_of_day"
	colPredecessor = "predecessor"
	colRunID       = "run_id"
	colStatus      = "status"
	colStarted     = "last_run_started_at"
	colEnded       = "last_run_ended_at"
	colFailed      = "last_run_failed_at"
	colDuration    = "duration_seconds"
	colError       = "last_error"
)

var columns = []warehouse.ColumnDef{
	{Name: colTask, Kind: warehouse.KindText},
	{Name: colDescription, Kind: warehouse.KindText},
	{Name: colFrequency, Kind: warehouse.KindText},
	{Name: colDayOfWeek, Kind: warehouse.KindText},
	{Name: colTimeOfDay, Kind: warehouse.KindText},
	{Name: colPredecessor, Kind: warehouse.KindText},
	{Name: colRunID, Kind: warehouse.KindText},
	{Name: colStatus, Kind: warehouse.KindText},
	{Name: colStarted, Kind: warehouse.KindTimestamp},
	{Name: colEnded, Kind: warehouse.KindTimestamp},
	{Name: colFailed, Kind: warehouse.KindTimestamp},
	{Name: colDuration, Kind: warehouse.KindFloat},
	{Name: colError, Kind: warehouse.KindText},
}

func columnNames() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.Name
	}
	return out
}

// maxErrorLen bounds the stored failure text.
const maxErrorLen = 2000

// Tables resolves the task and history table references.
func Tables(cfg config.MetadataConfig) (task, history warehouse.TableRef) {
	return warehouse.TableRef{Schema: cfg.Schema, Name: cfg.TaskTable},
		warehouse.TableRef{Schema: cfg.Schema, Name: cfg.HistoryTable}
}

// Migrate creates the task and history tables if they do not exist.
func Migrate(ctx context.Context, wh warehouse.Warehouse, cfg config.MetadataConfig) error {
	task, history := Tables(cfg)
	if err := warehouse.EnsureTable(ctx, wh, task, columns, []string{colTask}); err != nil {
		return eris.Wrap(err, "runmeta: create task table")
	}
	if err := warehouse.EnsureTable(ctx, wh, history, columns, nil); err != nil {
		return eris.Wrap(err, "runmeta: create history table")
	}
	return nil
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLocation sets the zone timestamps are recorded in.
func WithLocation(loc *time.Location) Option {
	return func(r *Recorder) { r.loc = loc }
}

// Recorder drives one task through NotStarted, Running and then Completed or
// Failed. A Recorder covers a single run.
type Recorder struct {
	wh      warehouse.Warehouse
	task    config.TaskConfig
	table   warehouse.TableRef
	history warehouse.TableRef
	now     func() time.Time
	loc     *time.Location

	state   State
	runID   string
	started time.Time
	log     *zap.Logger
}

// New creates a Recorder for task. The time zone comes from cfg.TimeZone
// unless WithLocation is given.
func New(wh warehouse.Warehouse, cfg config.MetadataConfig, task config.TaskConfig, opts ...Option) (*Recorder, error) {
	if task.Name == "" {
		return nil, eris.New("runmeta: task name is required")
	}
	r := &Recorder{
		wh:    wh,
		task:  task,
		now:   time.Now,
		state: NotStarted,
	}
	r.table, r.history = Tables(cfg)
	for _, opt := range opts {
		opt(r)
	}
	if r.loc == nil {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, eris.Wrapf(err, "runmeta: load time zone %q", cfg.TimeZone)
		}
		r.loc = loc
	}
	r.log = zap.L().With(zap.String("component", "runmeta"), zap.String("task", task.Name))
	return r, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State { return r.state }

// RunID returns the id assigned by Begin.
func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) clock() time.Time {
	return r.now().In(r.loc)
}

// Begin marks the task running, inserting its row or overwriting the previous
// run's fields.
func (r *Recorder) Begin(ctx context.Context) error {
	if r.state != NotStarted {
		return eris.Errorf("runmeta: begin %s: task is %s", r.task.Name, r.state)
	}
	r.runID = uuid.NewString()
	r.started = r.clock()

	values := []any{
		r.task.Name, r.task.Description, r.task.Frequency, r.task.DayOfWeek, r.task.TimeOfDay, r.task.Predecessor,
		r.runID, string(Running), r.started, nil, nil, nil, nil,
	}
	d := r.wh.Dialect()
	if _, err := r.wh.Exec(ctx, d.UpsertValues(r.table, columnNames(), []string{colTask}), values...); err != nil {
		return eris.Wrapf(err, "runmeta: begin %s", r.task.Name)
	}
	r.state = Running
	r.log.Info("run started", zap.String("run_id", r.runID), zap.Time("started_at", r.started))
	return nil
}

// Complete records the end time and duration, then archives the row into run
// history.
func (r *Recorder) Complete(ctx context.Context) error {
	if r.state != Running {
		return eris.Errorf("runmeta: complete %s: task is %s", r.task.Name, r.state)
	}
	ended := r.clock()
	duration := math.Round(ended.Sub(r.started).Seconds()*1000) / 1000

	d := r.wh.Dialect()
	update := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
		d.Table(r.table),
		d.Quote(colEnded), d.Placeholder(1),
		d.Quote(colDuration), d.Placeholder(2),
		d.Quote(colStatus), d.Placeholder(3),
		d.Quote(colTask), d.Placeholder(4),
		d.Quote(colRunID), d.Placeholder(5),
	)
	if _, err := r.wh.Exec(ctx, update, ended, duration, string(Completed), r.task.Name, r.runID); err != nil {
		return eris.Wrapf(err, "runmeta: complete %s", r.task.Name)
	}

	list := quoteList(d, columnNames())
	archive := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = %s AND %s = %s",
		d.Table(r.history), list, list, d.Table(r.table),
		d.Quote(colTask), d.Placeholder(1),
		d.Quote(colRunID), d.Placeholder(2),
	)
	if _, err := r.wh.Exec(ctx, archive, r.task.Name, r.runID); err != nil {
		return eris.Wrapf(err, "runmeta: archive %s", r.task.Name)
	}

	r.state = Completed
	r.log.Info("run completed", zap.String("run_id", r.runID), zap.Float64("duration_seconds", duration))
	return nil
}

// Fail records the failure time and error text. Failed runs are not archived.
func (r *Recorder) Fail(ctx context.Context, cause error) error {
	if r.state != Running {
		return eris.Errorf("runmeta: fail %s: task is %s", r.task.Name, r.state)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}

	d := r.wh.Dialect()
	update := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
		d.Table(r.table),
		d.Quote(colFailed), d.Placeholder(1),
		d.Quote(colStatus), d.Placeholder(2),
		d.Quote(colError), d.Placeholder(3),
		d.Quote(colTask), d.Placeholder(4),
		d.Quote(colRunID), d.Placeholder(5),
	)
	if _, err := r.wh.Exec(ctx, update, r.clock(), string(Failed), msg, r.task.Name, r.runID); err != nil {
		return eris.Wrapf(err, "runmeta: fail %s", r.task.Name)
	}
	r.state = Failed
	r.log.Warn("run failed", zap.String("run_id", r.runID), zap.String("error", msg))
	return nil
}

func quoteList(d warehouse.Dialect, cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}
