package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"campaign-dialer/internal/script"
)

func newScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Work with conversation scripts",
	}
	cmd.AddCommand(newScriptValidateCmd())
	return cmd
}

func newScriptValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a script document without storing it",
		Long:  "Parses a YAML or JSON script and reports every structural problem: missing start state, dangling transitions, duplicate keys, unreachable states.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScriptValidate(cmd, args[0])
		},
	}
}

func runScriptValidate(cmd *cobra.Command, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := script.Parse(b)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := script.Validate(s); err != nil {
		var ve *script.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		for _, p := range ve.Problems {
			fmt.Fprintln(out, "  -", p.String())
		}
		return fmt.Errorf("%s: %d problem(s)", path, len(ve.Problems))
	}
	fmt.Fprintf(out, "%s: ok (%d states)\n", path, len(s.States))
	return nil
}
