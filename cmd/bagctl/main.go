/*
bagctl - Operator CLI for the bag ledger

PURPOSE:
  Runs ledger operations directly against the configured database, for
  warehouse staff and for checking a deployment without the console.

COMMANDS:
  bagctl stock show                       Current stock and totals
  bagctl stock add <count>                Add bags
  bagctl stock remove <count> -r <why>    Remove bags
  bagctl stock history                    Stock audit trail
  bagctl allocate <driver> <count>        Allocate bags to a driver
  bagctl return <driver> <count> -r <why> Return bags from a driver
  bagctl audit                            Replay the journal

GLOBAL FLAGS:
  --org      organization (required)
  --actor    recorded on journal entries (default: $USER)
  --db       DSN, overrides DB_DSN
  --driver   sqlite | postgres | mysql, overrides DB_DRIVER
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(&cliApp{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bagctl",
		Short: "bagctl - operate the bag inventory ledger",
		Long: `bagctl runs stock, allocation, return and audit operations of the bag
ledger directly against its database.`,
		SilenceUsage:      true,
		PersistentPreRunE: app.open,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return app.close()
		},
	}
	app.bindFlags(rootCmd)

	rootCmd.AddCommand(app.stockCmd())
	rootCmd.AddCommand(app.allocateCmd())
	rootCmd.AddCommand(app.returnCmd())
	rootCmd.AddCommand(app.auditCmd())
	return rootCmd
}
