package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var migrateWarehouse string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the task list and run history tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := openWarehouse(cmd.Context(), cfg, "migrate", migrateWarehouse)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		_, _ = fmt.Fprintf(os.Stdout, "run tables ready in %s.%s and %s.%s\n",
			cfg.Metadata.Schema, cfg.Metadata.TaskTable, cfg.Metadata.Schema, cfg.Metadata.HistoryTable)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateWarehouse, "warehouse", "", "warehouse name (default: default_warehouse)")
	rootCmd.AddCommand(migrateCmd)
}
