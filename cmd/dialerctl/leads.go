package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func newLeadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Manage the lead pool",
	}
	cmd.AddCommand(newLeadsImportCmd())
	return cmd
}

func newLeadsImportCmd() *cobra.Command {
	var campaignID string

	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import leads from the first sheet of a workbook",
		Long:  "Columns are matched by header: name, phone, email, source, priority, notes. Rows with a bad or already known phone number are skipped and reported.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if campaignID == "" {
				return errors.New("--campaign is required")
			}
			return runLeadsImport(cmd, campaignID, args[0])
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign the imported leads belong to")
	return cmd
}

func runLeadsImport(cmd *cobra.Command, campaignID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Leads.Import(cmd.Context(), campaignID, f)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}
