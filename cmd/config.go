package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/inovacc/deploywatch/internal/application"
	"github.com/inovacc/deploywatch/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Long: `Show or change the settings stored in config.ini in the application directory.

Keys:
  ` + strings.Join(config.Keys, "\n  "),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := application.GetApplicationDirectory()
		if err != nil {
			return err
		}

		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}

		metrics := cfg.MetricsAddr
		if metrics == "" {
			metrics = "(disabled)"
		}

		_, _ = fmt.Fprintln(os.Stdout, "Current Configuration:")
		_, _ = fmt.Fprintln(os.Stdout, "=====================")
		_, _ = fmt.Fprintf(os.Stdout, "Directory:        %s\n", dir)
		_, _ = fmt.Fprintf(os.Stdout, "API Base URL:     %s\n", cfg.APIBaseURL)
		_, _ = fmt.Fprintf(os.Stdout, "API Timeout:      %s\n", cfg.APITimeout)
		_, _ = fmt.Fprintf(os.Stdout, "Debounce:         %s\n", cfg.Debounce)
		_, _ = fmt.Fprintf(os.Stdout, "Push State File:  %s\n", cfg.PushStateFile)
		_, _ = fmt.Fprintf(os.Stdout, "Widget Directory: %s\n", cfg.WidgetDir)
		_, _ = fmt.Fprintf(os.Stdout, "Watch Schedule:   %s\n", cfg.WatchSchedule)
		_, _ = fmt.Fprintf(os.Stdout, "Metrics Address:  %s\n", metrics)

		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Change a setting",
	Long: `Change a single setting.

Examples:
  deploywatch config set reconcile.debounce 2s
  deploywatch config set watch.schedule "@every 5m"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := application.EnsureApplicationDirectory()
		if err != nil {
			return err
		}

		if err := config.Set(dir, args[0], args[1]); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(os.Stdout, "✓ %s = %s\n", args[0], args[1])

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
