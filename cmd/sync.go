package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the webhooks of every connection once",
	Long: `Re-read the push permission, discover the teams of every connection and
bring each eligible team's webhook in line with the saved preferences.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		states, err := env.manager.SyncAll(ctx)
		if err != nil {
			return err
		}

		if err := env.manager.Flush(ctx); err != nil {
			return err
		}

		failed := 0

		for _, st := range env.manager.States() {
			if st.LastError != nil {
				failed++
			}
		}

		_, _ = fmt.Fprintf(os.Stdout, "✓ Synced %d teams", len(states))

		if failed > 0 {
			_, _ = fmt.Fprintf(os.Stdout, " (%d failed, see 'deploywatch notifications status')", failed)
		}

		_, _ = fmt.Fprintln(os.Stdout)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
