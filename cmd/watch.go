package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/inovacc/deploywatch/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep webhooks reconciled on a schedule",
	Long: `Run in the foreground, re-reading the push permission and reconciling every
connection on the given schedule. Revoking permission while watching deletes
this device's webhooks on the next round.

Schedules accept cron expressions (with optional seconds) and descriptors.

Examples:
  deploywatch watch
  deploywatch watch --schedule "@every 30s"
  deploywatch watch --schedule "0 */5 * * * *" --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, _ := cmd.Flags().GetString("schedule")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		if schedule == "" {
			schedule = env.cfg.WatchSchedule
		}

		if metricsAddr == "" {
			metricsAddr = env.cfg.MetricsAddr
		}

		if err := service.ValidateSchedule(schedule); err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		if metricsAddr != "" {
			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           metricsHandler(env),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server failed", slog.String("error", err.Error()))
				}
			}()

			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				_ = srv.Shutdown(shutdownCtx)
			}()

			slog.Info("serving metrics", slog.String("addr", metricsAddr))
		}

		fmt.Printf("Watching (%s). Press Ctrl+C to stop.\n", schedule)

		return env.manager.Watch(ctx, schedule)
	},
}

func metricsHandler(env *environment) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))

	return mux
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("schedule", "", "Cron schedule for reconcile rounds (default: watch.schedule)")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")
}
