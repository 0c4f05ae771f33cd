package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/inovacc/deploywatch/internal/model"
	"github.com/spf13/cobra"
)

var connectionCmd = &cobra.Command{
	Use:     "connection",
	Aliases: []string{"conn", "account"},
	Short:   "Manage registered accounts",
	Long: `Manage the hosting accounts deploywatch acts on.

Each connection is one API token. The first connection added becomes the
current one; commands that take no --connection flag use it.`,
}

var connectionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an account by API token",
	Long: `Verify an API token and register the account it belongs to.

The token is read from --token, the DEPLOYWATCH_TOKEN environment variable,
or prompted for without echo.

Examples:
  deploywatch connection add
  deploywatch connection add --token "$TOKEN"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = os.Getenv("DEPLOYWATCH_TOKEN")
		}

		if token == "" {
			var err error

			token, err = readSecret("API token: ")
			if err != nil {
				return err
			}
		}

		if token == "" {
			return errors.New("an API token is required")
		}

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		conn, err := env.manager.Login(ctx, token)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(os.Stdout, "✓ Connected as %s (%s)\n", conn.Username, conn.ID)

		if conn.CurrentTeamID != "" {
			_, _ = fmt.Fprintf(os.Stdout, "  Team: %s\n", conn.CurrentTeamID)
		}

		return nil
	},
}

var connectionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered accounts",
	Long: `List all registered accounts.

The current connection is marked with an asterisk (*).

Examples:
  deploywatch connection list
  deploywatch connection list --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		conns := env.conns.List()
		current, _ := env.conns.Current()

		if jsonOutput {
			type item struct {
				ID        string    `json:"id"`
				Username  string    `json:"username,omitempty"`
				Team      string    `json:"team,omitempty"`
				Token     string    `json:"token"`
				Current   bool      `json:"current"`
				CreatedAt time.Time `json:"created_at"`
			}

			items := make([]item, 0, len(conns))
			for _, c := range conns {
				items = append(items, item{
					ID:        c.ID,
					Username:  c.Username,
					Team:      c.CurrentTeamID,
					Token:     maskToken(c.APIToken),
					Current:   c.ID == current.ID,
					CreatedAt: c.CreatedAt,
				})
			}

			return printJSON(items)
		}

		if len(conns) == 0 {
			printEmptyResult("connections", "deploywatch connection add")
			return nil
		}

		printConnectionsTable(conns, current.ID)

		return nil
	},
}

func printConnectionsTable(conns []model.Connection, currentID string) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	currentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	maxID := 10
	for _, c := range conns {
		if len(c.ID) > maxID {
			maxID = len(c.ID)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout)
	_, _ = fmt.Fprintf(os.Stdout, "  %s  %s  %s  %s\n",
		headerStyle.Render(padRight("ID", maxID)),
		headerStyle.Render(padRight("USER", 20)),
		headerStyle.Render(padRight("TEAM", 20)),
		headerStyle.Render("TOKEN"),
	)
	_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("-", maxID+60))

	for _, c := range conns {
		marker := " "
		id := padRight(c.ID, maxID)

		if c.ID == currentID {
			marker = "*"
			id = currentStyle.Render(id)
		}

		team := c.CurrentTeamID
		if team == "" {
			team = "-"
		}

		_, _ = fmt.Fprintf(os.Stdout, "%s %s  %s  %s  %s\n",
			marker,
			id,
			padRight(truncateString(c.Username, 20), 20),
			padRight(truncateString(team, 20), 20),
			dimStyle.Render(maskToken(c.APIToken)),
		)
	}

	_, _ = fmt.Fprintln(os.Stdout)
	_, _ = fmt.Fprintf(os.Stdout, "Total: %d connections\n", len(conns))
}

var connectionRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an account and its webhooks",
	Long: `Remove a registered account.

Every push webhook the account has on this device is deleted first. If the
removed account was current, the first remaining account becomes current.

Examples:
  deploywatch connection remove usr_123
  deploywatch connection remove usr_123 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes && !promptConfirm(fmt.Sprintf("Remove connection %s? [y/N]: ", args[0])) {
			_, _ = fmt.Fprintln(os.Stdout, "Cancelled.")
			return nil
		}

		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		// Webhooks are deleted against the current push token
		if _, err := env.manager.RefreshPush(ctx); err != nil {
			return err
		}

		if _, err := env.manager.SyncAll(ctx); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		removed, err := env.manager.Logout(ctx, args[0])
		if err != nil {
			return err
		}

		if !removed {
			_, _ = fmt.Fprintf(os.Stdout, "Connection %s is not registered.\n", args[0])
			return nil
		}

		_, _ = fmt.Fprintf(os.Stdout, "✓ Removed connection %s\n", args[0])

		return nil
	},
}

var connectionUseCmd = &cobra.Command{
	Use:   "use <id> [team]",
	Short: "Switch the current account and team",
	Long: `Make a registered account current, optionally selecting one of its teams
by id or slug.

Examples:
  deploywatch connection use usr_123
  deploywatch connection use usr_123 my-team`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		teamID := ""

		if len(args) == 2 {
			ctx, cancel := commandContext(cmd.Context())
			defer cancel()

			teams, err := env.manager.Teams(ctx, args[0])
			if err != nil {
				return err
			}

			for _, t := range teams {
				if t.ID == args[1] || t.Slug == args[1] {
					teamID = t.ID
				}
			}

			if teamID == "" {
				return fmt.Errorf("team %s not found for connection %s", args[1], args[0])
			}
		}

		if !env.conns.Switch(args[0], teamID) {
			return fmt.Errorf("connection %s is not registered", args[0])
		}

		_, _ = fmt.Fprintf(os.Stdout, "✓ Now using %s\n", args[0])

		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectionCmd)
	connectionCmd.AddCommand(connectionAddCmd, connectionListCmd, connectionRemoveCmd, connectionUseCmd)

	connectionAddCmd.Flags().String("token", "", "API token")
	connectionListCmd.Flags().Bool("json", false, "Output as JSON")
	connectionRemoveCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
}
