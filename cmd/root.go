package cmd

import (
	"log/slog"
	"os"

	"github.com/inovacc/deploywatch/internal/application"
	"github.com/spf13/cobra"
)

var debugLogs bool

var rootCmd = &cobra.Command{
	Use:   application.AppName,
	Short: "Deployment push notifications for your hosting accounts",
	Long: `Deploywatch keeps push notification webhooks for your hosting teams in sync.

Register one or more accounts, choose which deployment events should notify
this device, and deploywatch creates, updates and removes the matching
webhooks on the provider. Revoking push permission or removing an account
tears its webhooks down.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debugLogs {
			level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for introspection purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")
}
