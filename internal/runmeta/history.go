package runmeta

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/record"
	"github.com/sells-group/stageload/internal/warehouse"
)

// Run is one row of the task or history table.
type Run struct {
	Task            string     `json:"task_name"`
	Description     string     `json:"description,omitempty"`
	Frequency       string     `json:"frequency,omitempty"`
	DayOfWeek       string     `json:"day_of_week,omitempty"`
	TimeOfDay       string     `json:"time_of_day,omitempty"`
	Predecessor     string     `json:"predecessor,omitempty"`
	RunID           string     `json:"run_id"`
	Status          State      `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// History returns archived runs of task, newest first. limit <= 0 returns
// every run.
func History(ctx context.Context, wh warehouse.Warehouse, cfg config.MetadataConfig, task string, limit int) ([]Run, error) {
	_, history := Tables(cfg)
	return listRuns(ctx, wh, history, task, limit)
}

// Current returns the task table rows, or only task's row when task is set.
func Current(ctx context.Context, wh warehouse.Warehouse, cfg config.MetadataConfig, task string) ([]Run, error) {
	table, _ := Tables(cfg)
	return listRuns(ctx, wh, table, task, 0)
}

func listRuns(ctx context.Context, wh warehouse.Warehouse, t warehouse.TableRef, task string, limit int) ([]Run, error) {
	d := wh.Dialect()
	query := fmt.Sprintf("SELECT %s FROM %s", quoteList(d, columnNames()), d.Table(t))
	var args []any
	if task != "" {
		query += fmt.Sprintf(" WHERE %s = %s", d.Quote(colTask), d.Placeholder(1))
		args = append(args, task)
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", d.Quote(colStarted))
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	tbl, err := wh.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "runmeta: list %s", t)
	}
	runs := make([]Run, 0, tbl.Len())
	for _, row := range tbl.Rows {
		run, err := scanRun(tbl, row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func scanRun(tbl *record.Table, row []any) (Run, error) {
	get := func(col string) any {
		if i := tbl.ColumnIndex(col); i >= 0 {
			return row[i]
		}
		return nil
	}
	str := func(col string) string {
		if v := get(col); v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	run := Run{
		Task:        str(colTask),
		Description: str(colDescription),
		Frequency:   str(colFrequency),
		DayOfWeek:   str(colDayOfWeek),
		TimeOfDay:   str(colTimeOfDay),
		Predecessor: str(colPredecessor),
		RunID:       str(colRunID),
		Status:      State(str(colStatus)),
		Error:       str(colError),
	}
	var err error
	if run.StartedAt, err = toTime(get(colStarted)); err != nil {
		return Run{}, err
	}
	if run.EndedAt, err = toTime(get(colEnded)); err != nil {
		return Run{}, err
	}
	if run.FailedAt, err = toTime(get(colFailed)); err != nil {
		return Run{}, err
	}
	if run.DurationSeconds, err = toFloat(get(colDuration)); err != nil {
		return Run{}, err
	}
	return run, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func toTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed, nil
			}
		}
		return nil, eris.Errorf("runmeta: unrecognised timestamp %q", t)
	default:
		return nil, eris.Errorf("runmeta: unexpected timestamp type %T", v)
	}
}

func toFloat(v any) (*float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "runmeta: parse duration %q", n)
		}
		f = parsed
	default:
		return nil, eris.Errorf("runmeta: unexpected duration type %T", v)
	}
	return &f, nil
}
