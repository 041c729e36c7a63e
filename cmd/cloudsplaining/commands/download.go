package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/McLaouth/cloudsplaining/pkg/engine"
)

var downloadOutputFile string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download account authorization details",
	Long: `Fetch the account's users, groups, roles and policies via
GetAccountAuthorizationDetails and write the snapshot for later offline scans.

Example:
  cloudsplaining download --output-file authorization-details.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := engine.New(ctx, engine.WithConfig(cfg))
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		snapshot, accountID, err := e.Download(ctx)
		if err != nil {
			return err
		}

		if downloadOutputFile != "" {
			if err := os.WriteFile(downloadOutputFile, snapshot, 0600); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Printf("Account %s: snapshot written to %s (%d bytes)\n", accountID, downloadOutputFile, len(snapshot))
			return nil
		}

		key, err := e.StoreSnapshot(ctx, snapshot)
		if err != nil {
			return err
		}
		fmt.Printf("Account %s: snapshot stored at %s (%d bytes)\n", accountID, key, len(snapshot))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadOutputFile, "output-file", "", "Write the snapshot to this file instead of the output target")
	downloadCmd.Flags().BoolVar(&cfg.IncludeAWSManaged, "include-aws-managed", false, "Include AWS-managed policy documents")
}
