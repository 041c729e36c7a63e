package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/McLaouth/cloudsplaining/pkg/config"
	"github.com/McLaouth/cloudsplaining/pkg/engine"
	"github.com/McLaouth/cloudsplaining/pkg/version"
)

var (
	cfgFile string
	cfg     engine.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloudsplaining",
	Short: "IAM policy risk scanner",
	Long: `Cloudsplaining - AWS IAM Security Assessment

Evaluate what your policies actually allow, and which of those grants
are dangerous.`,
	Version: version.Current,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.cloudsplaining.yaml)")
	rootCmd.PersistentFlags().StringVar(&cfg.Region, "region", "us-east-1", "AWS Region")
	rootCmd.PersistentFlags().StringVar(&cfg.Profile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().StringVarP(&cfg.OutputDir, "output", "o", "cloudsplaining-out", "Output directory or s3://bucket/prefix")
	rootCmd.PersistentFlags().StringSliceVar(&cfg.Formats, "format", []string{"json", "html"}, "Report formats: json, csv, html")
	rootCmd.PersistentFlags().StringVar(&cfg.ExclusionsPath, "exclusions-file", "", "Exclusion configuration (YAML)")
	rootCmd.PersistentFlags().StringVar(&cfg.RulesPath, "rules-file", "", "Custom CEL rules (YAML)")
	rootCmd.PersistentFlags().StringVar(&cfg.CatalogPath, "catalog-file", "", "Action catalog override (defaults to the embedded dataset)")
	rootCmd.PersistentFlags().IntVar(&cfg.MaxConcurrency, "max-concurrency", 0, "Policy evaluation workers (0 = default)")
	rootCmd.PersistentFlags().BoolVar(&cfg.StrictMode, "strict", false, "Fail on unparsable policy documents")
	rootCmd.PersistentFlags().StringVar(&cfg.OtelEndpoint, "otel-endpoint", "", "OTLP trace endpoint")

	rootCmd.PersistentFlags().BoolVar(&cfg.SkipTelemetry, "skip-telemetry", false, "Disable trace initialization")
	rootCmd.PersistentFlags().MarkHidden("skip-telemetry")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".cloudsplaining.yaml"))
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("CLOUDSPLAINING")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()

	// A config file that fails to decode is fatal: a half-loaded risk table
	// silently changes what gets flagged.
	sc := config.DefaultScanConfig()
	if err := viper.Unmarshal(&sc); err != nil {
		cobra.CheckErr(fmt.Errorf("invalid config file %s: %w", viper.ConfigFileUsed(), err))
	}
	cfg.Risk = sc.Risk

	// Flags win over the config file.
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = sc.CatalogPath
	}
	if cfg.ExclusionsPath == "" {
		cfg.ExclusionsPath = sc.ExclusionsPath
	}
	if cfg.RulesPath == "" {
		cfg.RulesPath = sc.RulesPath
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = sc.MaxConcurrency
	}
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00FF99")).
		MarginBottom(1)

	flagStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	fmt.Println(titleStyle.Render(fmt.Sprintf("CLOUDSPLAINING %s", version.Current)))
	fmt.Println(cmd.Short)

	fmt.Println(titleStyle.Render("USAGE"))
	fmt.Printf("  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Println(titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Printf("  %-18s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Println("")
	}

	fmt.Println(titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Println(flagStyle.Render(output))
	})
	fmt.Println("")
}
