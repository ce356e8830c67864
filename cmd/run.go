package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/pipeline"
	"github.com/sells-group/stageload/internal/source"
)

var (
	runDataset       string
	runReferenceDate string
	runWarehouse     string
	runJSON          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one dataset load",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(cmd.Context(), os.Stdout, cfg, runOptions{
			Dataset:       runDataset,
			ReferenceDate: runReferenceDate,
			Warehouse:     runWarehouse,
			JSON:          runJSON,
		})
	},
}

type runOptions struct {
	Dataset       string
	ReferenceDate string
	Warehouse     string
	JSON          bool
	// Deps overrides source collaborators; the warehouse is always opened
	// from config.
	Deps pipeline.Deps
}

func runLoad(ctx context.Context, out io.Writer, c *config.Config, opts runOptions) error {
	ds, err := config.LoadDataset(opts.Dataset)
	if err != nil {
		return err
	}
	clock, err := referenceClock(opts.ReferenceDate)
	if err != nil {
		return err
	}

	whName := opts.Warehouse
	if whName == "" {
		whName = ds.Warehouse
	}
	wh, err := openWarehouse(ctx, c, "run", whName)
	if err != nil {
		return err
	}
	defer wh.Close() //nolint:errcheck

	deps := opts.Deps
	deps.Warehouse = wh
	deps.Clock = clock
	p, err := pipeline.Build(ctx, c, ds, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			zap.L().Warn("close source", zap.Error(err))
		}
	}()

	res, runErr := p.Run(ctx)
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode result")
		}
	} else {
		formatResult(out, res)
	}
	return runErr
}

// referenceClock pins the reference day to date (YYYY-MM-DD). An empty date
// uses the current time.
func referenceClock(date string) (source.Clock, error) {
	if date == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return nil, eris.Wrapf(err, "parse --reference-date %q", date)
	}
	return func() time.Time { return d }, nil
}

// formatResult writes a run summary and its phases to w.
func formatResult(out io.Writer, res *pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Dataset:\t%s\n", res.Dataset)
	_, _ = fmt.Fprintf(w, "Task:\t%s\n", res.Task)
	_, _ = fmt.Fprintf(w, "Run ID:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Batches:\t%d\n", res.Batches)
	_, _ = fmt.Fprintf(w, "Staged:\t%d\n", res.Staged)
	_, _ = fmt.Fprintf(w, "Persisted:\t%d (filtered %d, dropped %d, duplicates %d)\n",
		res.Persisted.Written, res.Persisted.Filtered, res.Persisted.Dropped, res.Persisted.Duplicates)
	_, _ = fmt.Fprintf(w, "Merged:\t%d\n", res.Merged)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", res.Elapsed.Round(time.Millisecond))
	_ = w.Flush()

	if len(res.Phases) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tBATCH\tSTATUS\tROWS\tDURATION")
	_, _ = fmt.Fprintln(w, "-----\t-----\t------\t----\t--------")
	for _, ph := range res.Phases {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\n", ph.Name, ph.Batch, ph.Status, ph.Rows, ph.Duration)
	}
	_ = w.Flush()

	if ph, ok := res.Failed(); ok {
		_, _ = fmt.Fprintf(out, "\nFailed in %s: %s\n", ph.Name, ph.Error)
	}
}

func init() {
	runCmd.Flags().StringVar(&runDataset, "dataset", "", "path to the dataset YAML file (required)")
	runCmd.Flags().StringVar(&runReferenceDate, "reference-date", "", "reference day for date-derived keys (YYYY-MM-DD, default today)")
	runCmd.Flags().StringVar(&runWarehouse, "warehouse", "", "warehouse name (default: the dataset's, then default_warehouse)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	_ = runCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(runCmd)
}
