package commands

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/McLaouth/cloudsplaining/pkg/engine"
	"github.com/McLaouth/cloudsplaining/pkg/report"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an account's authorization details",
	Long: `Evaluate every policy in an account authorization-details snapshot.

With --input, reads a snapshot produced by 'cloudsplaining download' or
'aws iam get-account-authorization-details'. Without it, downloads live.

Example:
  cloudsplaining scan --input authorization-details.json --exclusions-file exclusions.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := engine.New(ctx, engine.WithConfig(cfg))
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		rep, scanErr := e.ScanAccount(ctx)
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
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&cfg.AuthDetailsPath, "input", "", "Authorization details snapshot (empty = live download)")
	scanCmd.Flags().BoolVar(&cfg.IncludeAWSManaged, "include-aws-managed", false, "Also evaluate AWS-managed policies on live downloads")
}

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	sevStyles    = map[string]lipgloss.Style{
		"critical": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555")),
		"high":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8855")),
		"medium":   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFCC55")),
		"low":      lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		"info":     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
)

func printSummary(rep *report.Report, artifacts []string) {
	s := rep.Summarize()

	fmt.Println(summaryTitle.Render("SCAN COMPLETE"))
	fmt.Printf("  Policies evaluated: %d\n", rep.PoliciesTotal)
	fmt.Printf("  Findings: %d active, %d suppressed\n", s.Active, s.Suppressed)

	severities := make([]string, 0, len(s.BySeverity))
	for sev := range s.BySeverity {
		severities = append(severities, sev)
	}
	sort.Strings(severities)
	for _, sev := range severities {
		style, ok := sevStyles[sev]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Printf("    %s: %d\n", style.Render(sev), s.BySeverity[sev])
	}

	if len(rep.Diagnostics) > 0 {
		fmt.Fprintf(os.Stderr, "  Diagnostics: %d (see report.json)\n", len(rep.Diagnostics))
	}
	for _, key := range artifacts {
		fmt.Printf("  Artifact: %s\n", key)
	}
}
