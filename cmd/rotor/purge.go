package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop ledger entries past retention",
	RunE:  runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	removed := rt.mgr.Purge(cmd.Context())
	fmt.Printf("Purged %d outcomes older than %d days.\n", removed, rt.cfg.LedgerConf.RetentionDays)
	return nil
}
