package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	_ "time/tzdata"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"campaign-dialer/internal/app"
	"campaign-dialer/internal/config"
	"campaign-dialer/pkg/logger"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dialerctl",
		Short:         "Operator tooling for the campaign dialer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newScriptCmd())
	cmd.AddCommand(newLeadsCmd())
	cmd.AddCommand(newRollupsCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dialerctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}
	return config.Load()
}

// openStore wires the services against durable storage. Commands that change
// state refuse the memory backend since nothing would outlive the process.
func openStore(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend != config.BackendPostgres {
		return nil, fmt.Errorf("%s needs STORAGE_BACKEND=postgres", cmd.CommandPath())
	}
	log := logger.NewWithWriter(cfg.App.Env, os.Getenv("LOG_LEVEL"), cmd.ErrOrStderr())
	return app.New(cmd.Context(), cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
