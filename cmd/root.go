package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "stageload",
	Short: "Staged warehouse loads from object storage, REST, SFTP/FTP and Salesforce",
	Long: "Extracts one dataset per run, stages it in a transient table, casts and filters it into a " +
		"persisted table, merges it into a presentation table by natural key and records the run.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
