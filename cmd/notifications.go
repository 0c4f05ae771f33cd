package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/inovacc/deploywatch/internal/preferences"
	"github.com/inovacc/deploywatch/internal/reconcile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notify", "events"},
	Short:   "Choose which deployment events notify this device",
	Long: `Enable or disable push notifications per deployment event.

Changes made in quick succession are sent as a single webhook update.
Only teams on a paid plan can receive push notifications.

Events:
  ` + strings.Join(model.KnownEvents(), "\n  "),
}

var notificationsEnableCmd = &cobra.Command{
	Use:   "enable <event>...",
	Short: "Enable events",
	Long: `Enable one or more events for the current (or given) team.

Examples:
  deploywatch notifications enable deployment.error
  deploywatch notifications enable deployment.error deployment.succeeded --team my-team`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args, true)
	},
}

var notificationsDisableCmd = &cobra.Command{
	Use:   "disable <event>...",
	Short: "Disable events",
	Long: `Disable one or more events. Disabling the last event deletes the webhook.

Examples:
  deploywatch notifications disable deployment.error`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runToggle(cmd, args, false)
	},
}

var notificationsSetCmd = &cobra.Command{
	Use:   "set [event]...",
	Short: "Replace the enabled events",
	Long: `Replace the whole set of enabled events. No arguments disables everything.

Examples:
  deploywatch notifications set deployment.error deployment.canceled
  deploywatch notifications set`,
	RunE: func(cmd *cobra.Command, args []string) error {
		connID, _ := cmd.Flags().GetString("connection")
		teamID, _ := cmd.Flags().GetString("team")

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		if _, err := env.manager.RefreshPush(ctx); err != nil {
			return err
		}

		st, err := env.manager.SetEvents(ctx, connID, teamID, args)
		if err != nil {
			return explainToggleError(err)
		}

		return reportSettled(ctx, env, st.Key)
	},
}

func runToggle(cmd *cobra.Command, events []string, enabled bool) error {
	connID, _ := cmd.Flags().GetString("connection")
	teamID, _ := cmd.Flags().GetString("team")

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	if _, err := env.manager.RefreshPush(ctx); err != nil {
		return err
	}

	if acked, _ := env.prefs.Acknowledged(preferences.FlagNotificationsIntro); !acked && enabled {
		_, _ = fmt.Fprintln(os.Stdout, "Notifications are delivered to this device through a webhook on your team.")
		_ = env.prefs.Acknowledge(preferences.FlagNotificationsIntro)
	}

	var key model.PairKey

	for _, event := range events {
		st, err := env.manager.Toggle(ctx, connID, teamID, event, enabled)
		if err != nil {
			return explainToggleError(err)
		}

		key = st.Key
	}

	return reportSettled(ctx, env, key)
}

func explainToggleError(err error) error {
	switch {
	case errors.Is(err, reconcile.ErrNotEligible):
		return fmt.Errorf("%w: upgrade the team to receive push notifications", err)
	case errors.Is(err, reconcile.ErrPermissionDenied):
		return fmt.Errorf("%w: run 'deploywatch push grant' to allow notifications", err)
	case errors.Is(err, reconcile.ErrUnknownEvent):
		return fmt.Errorf("%w (known events: %s)", err, strings.Join(model.KnownEvents(), ", "))
	}

	return err
}

// reportSettled waits for the pending change to be sent and prints the outcome.
func reportSettled(ctx context.Context, env *environment, key model.PairKey) error {
	if err := env.manager.Flush(ctx); err != nil {
		return err
	}

	st, ok := env.manager.Reconciler().State(key)
	if !ok {
		return nil
	}

	if st.LastError != nil {
		return st.LastError
	}

	if len(st.Events) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "✓ Notifications off for team %s\n", key.TeamID)
		return nil
	}

	_, _ = fmt.Fprintf(os.Stdout, "✓ Team %s notifies on: %s\n", key.TeamID, strings.Join(st.Events, ", "))

	return nil
}

var notificationsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the webhook state of every team",
	Long: `Fetch the webhook of every eligible team of every connection and show what
it subscribes to.

Examples:
  deploywatch notifications status
  deploywatch notifications status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		state, err := env.manager.RefreshPush(ctx)
		if err != nil {
			return err
		}

		states, err := env.manager.SyncAll(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		if jsonOutput {
			type item struct {
				Connection string   `json:"connection"`
				Team       string   `json:"team"`
				Status     string   `json:"status"`
				Webhook    string   `json:"webhook,omitempty"`
				Events     []string `json:"events"`
				Error      string   `json:"error,omitempty"`
			}

			items := make([]item, 0, len(states))
			for _, st := range states {
				it := item{
					Connection: st.Key.ConnectionID,
					Team:       st.Key.TeamID,
					Status:     st.Status.String(),
					Webhook:    st.WebhookID,
					Events:     st.Events,
				}

				if st.LastError != nil {
					it.Error = st.LastError.Error()
				}

				items = append(items, it)
			}

			return printJSON(items)
		}

		if !state.Deliverable() {
			_, _ = fmt.Fprintln(os.Stdout, "Push notifications are not allowed on this device. Run 'deploywatch push grant'.")
		}

		if len(states) == 0 {
			_, _ = fmt.Fprintln(os.Stdout, "No eligible teams found.")
			return nil
		}

		printStatesTable(states)

		return nil
	},
}

func printStatesTable(states []reconcile.PairState) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	presentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	absentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	_, _ = fmt.Fprintln(os.Stdout)
	_, _ = fmt.Fprintf(os.Stdout, "%s  %s  %s  %s\n",
		headerStyle.Render(padRight("CONNECTION", 16)),
		headerStyle.Render(padRight("TEAM", 16)),
		headerStyle.Render(padRight("STATUS", 12)),
		headerStyle.Render("EVENTS"),
	)
	_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("-", 80))

	for _, st := range states {
		status := padRight(st.Status.String(), 12)

		switch st.Status {
		case reconcile.StatusPresent:
			status = presentStyle.Render(status)
		default:
			status = absentStyle.Render(status)
		}

		events := strings.Join(st.Events, ", ")
		if events == "" {
			events = "-"
		}

		_, _ = fmt.Fprintf(os.Stdout, "%s  %s  %s  %s\n",
			padRight(truncateString(st.Key.ConnectionID, 16), 16),
			padRight(truncateString(st.Key.TeamID, 16), 16),
			status,
			events,
		)

		if st.LastError != nil {
			_, _ = fmt.Fprintf(os.Stdout, "  %s\n", errorStyle.Render(st.LastError.Error()))
		}
	}

	_, _ = fmt.Fprintln(os.Stdout)
}

// addTargetFlags adds the flags selecting the connection and team a change applies to.
func addTargetFlags(fs *pflag.FlagSet) {
	fs.String("connection", "", "Connection id (default: current)")
	fs.String("team", "", "Team id or slug (default: the connection's current team)")
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsEnableCmd, notificationsDisableCmd, notificationsSetCmd, notificationsStatusCmd)

	for _, c := range []*cobra.Command{notificationsEnableCmd, notificationsDisableCmd, notificationsSetCmd} {
		addTargetFlags(c.Flags())
	}

	notificationsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}
