package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"campaign-dialer/internal/auth"
	"campaign-dialer/internal/rbac"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue operator tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print an access/refresh token pair signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if !rbac.Valid(role) {
				return fmt.Errorf("unknown role %q (want %s, %s or %s)", role, rbac.RoleAdmin, rbac.RoleSupervisor, rbac.RoleAnalyst)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return err
			}
			return printJSON(cmd, pair)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "operator id placed in the token")
	cmd.Flags().StringVar(&role, "role", rbac.RoleAnalyst, "operator role")
	return cmd
}
