package main

import (
	"github.com/spf13/cobra"
)

func newRollupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollups",
		Short: "Maintain cost and outcome rollups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Check the ledger against the call log and repair drift",
		Args:  cobra.NoArgs,
		RunE:  runRollupsRebuild,
	})
	return cmd
}

func runRollupsRebuild(cmd *cobra.Command, args []string) error {
	a, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Aggregator.Load(cmd.Context()); err != nil {
		return err
	}
	rep, err := a.Aggregator.Rebuild(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, rep)
}
