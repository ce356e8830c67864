package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/stageload/internal/config"
)

var validateDataset string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a dataset file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateFile(os.Stdout, validateDataset)
	},
}

func validateFile(out io.Writer, path string) error {
	ds, err := config.LoadDataset(path)
	if err != nil {
		return err
	}
	if err := ds.Validate(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "dataset %q is valid: %s source, %d columns, %s -> %s -> %s\n",
		ds.Name, ds.Source.Type, len(ds.Columns), ds.Staging.Table, ds.Persisted.Table, ds.Presentation.Table)
	return nil
}

func init() {
	validateCmd.Flags().StringVar(&validateDataset, "dataset", "", "path to the dataset YAML file (required)")
	_ = validateCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(validateCmd)
}
