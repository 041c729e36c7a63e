package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/McLaouth/cloudsplaining/pkg/engine"
)

var scanPolicyFileCmd = &cobra.Command{
	Use:   "scan-policy-file <file>...",
	Short: "Scan standalone policy documents",
	Long: `Evaluate one or more IAM policy JSON files without account context.

Example:
  cloudsplaining scan-policy-file policy.json --format json,csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := engine.New(ctx, engine.WithConfig(cfg))
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		rep, scanErr := e.ScanPolicyFiles(ctx, args)
		if scanErr != nil && !errors.Is(scanErr, engine.ErrPartialResult) {
			return scanErr
		}

		keys, err := e.WriteArtifacts(ctx, rep)
		if err != nil {
			return err
		}
		printSummary(rep, keys)
		return scanErr
	},
}

func init() {
	rootCmd.AddCommand(scanPolicyFileCmd)
}
