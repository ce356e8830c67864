package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/stageload/internal/runmeta"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the run history of a task",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		task, _ := cmd.Flags().GetString("task")
		limit, _ := cmd.Flags().GetInt("limit")
		current, _ := cmd.Flags().GetBool("current")
		asJSON, _ := cmd.Flags().GetBool("json")
		whName, _ := cmd.Flags().GetString("warehouse")

		wh, err := openWarehouse(ctx, cfg, "runs", whName)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		var runs []runmeta.Run
		if current {
			runs, err = runmeta.Current(ctx, wh, cfg.Metadata, task)
		} else {
			runs, err = runmeta.History(ctx, wh, cfg.Metadata, task, limit)
		}
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("task", "", "task name (required)")
	runsCmd.Flags().Int("limit", 20, "max number of runs to display (0 = all)")
	runsCmd.Flags().Bool("current", false, "show the task's current row instead of its history")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	runsCmd.Flags().String("warehouse", "", "warehouse name (default: default_warehouse)")
	_ = runsCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []runmeta.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tTASK\tSTATUS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		started := ""
		if r.StartedAt != nil {
			started = r.StartedAt.Format("2006-01-02 15:04:05")
		}
		dur := ""
		if r.DurationSeconds != nil {
			dur = time.Duration(*r.DurationSeconds * float64(time.Second)).Round(time.Millisecond).String()
		}
		errText := r.Error
		if len(errText) > 60 {
			errText = errText[:57] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.RunID),
			r.Task,
			r.Status,
			started,
			dur,
			errText,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
