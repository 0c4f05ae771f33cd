package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage push permission for this device",
	Long: `Grant or revoke push notification permission for this device.

Revoking permission deletes every webhook that targets this device on all
registered connections.`,
}

var pushGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Allow push notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.registrar.Grant(); err != nil {
			return fmt.Errorf("failed to grant push permission: %w", err)
		}

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		if _, err := env.manager.RefreshPush(ctx); err != nil {
			return err
		}

		// Pairs are fetched again on the new token
		if _, err := env.manager.SyncAll(ctx); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		_, _ = fmt.Fprintln(os.Stdout, "✓ Push notifications allowed")

		return nil
	},
}

var pushRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Disallow push notifications and delete this device's webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		// Learn the live webhooks while the token is still known
		if _, err := env.manager.RefreshPush(ctx); err != nil {
			return err
		}

		if _, err := env.manager.SyncAll(ctx); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		if err := env.registrar.Revoke(); err != nil {
			return fmt.Errorf("failed to revoke push permission: %w", err)
		}

		if _, err := env.manager.RefreshPush(ctx); err != nil {
			return err
		}

		if err := env.manager.Flush(ctx); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(os.Stdout, "✓ Push notifications revoked")

		return nil
	},
}

var pushStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the push permission and device token",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		offStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

		permission := offStyle.Render("denied")
		if state.Granted {
			permission = okStyle.Render("granted")
		}

		token := state.Token
		if token == "" {
			token = "-"
		}

		_, _ = fmt.Fprintf(os.Stdout, "Permission: %s\n", permission)
		_, _ = fmt.Fprintf(os.Stdout, "Token:      %s\n", token)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.AddCommand(pushGrantCmd, pushRevokeCmd, pushStatusCmd)
}
