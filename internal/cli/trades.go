package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTradesCmd(e *env) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the simulated trade ledger for a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.ListTrades(cmd.Context(), session)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatTrades(trades))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSession, "Session ID")
	return cmd
}
