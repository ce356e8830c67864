package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/fetcher"
	"github.com/sells-group/stageload/internal/monitoring"
	"github.com/sells-group/stageload/internal/warehouse"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Alert on tasks that failed or are stuck running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		watch, _ := cmd.Flags().GetBool("watch")
		whName, _ := cmd.Flags().GetString("warehouse")

		wh, err := openWarehouse(ctx, cfg, "check", whName)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		checker := newChecker(wh, cfg)
		if watch {
			checker.Run(ctx)
			return nil
		}
		return runCheck(ctx, os.Stdout, checker)
	},
}

func newChecker(wh warehouse.Warehouse, c *config.Config) *monitoring.Checker {
	poster := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.HTTP.UserAgent,
		Timeout:   10 * time.Second,
	})
	return monitoring.NewChecker(
		monitoring.NewCollector(wh, c.Metadata),
		monitoring.NewAlerter(c.Monitoring, poster),
		c.Monitoring,
	)
}

func runCheck(ctx context.Context, out io.Writer, checker *monitoring.Checker) error {
	snap, alerts, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Tasks:\t%d\n", snap.TasksTotal)
	_, _ = fmt.Fprintf(w, "Running:\t%d (%d stale)\n", snap.Running, len(snap.Stale))
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", snap.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%d in last %dh)\n", snap.Failed, len(snap.RecentFailures), snap.LookbackHours)
	_ = w.Flush()

	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", a.Severity, a.Message)
	}
	return nil
}

func init() {
	checkCmd.Flags().Bool("watch", false, "keep checking every monitoring.check_interval_secs")
	checkCmd.Flags().String("warehouse", "", "warehouse name (default: default_warehouse)")
	rootCmd.AddCommand(checkCmd)
}
