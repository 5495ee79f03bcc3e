package main

import (
	"fmt"
	"time"

	"project_chatflow/internal/config"
	"project_chatflow/internal/usecases"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a dashboard API token for a tenant",
	Long:  `Signs a bearer token with JWT_SECRET so operators can call the /api routes of one tenant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env")
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		tenant, _ := cmd.Flags().GetString("tenant")
		subject, _ := cmd.Flags().GetString("subject")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if tenant == "" {
			tenant = cfg.DefaultTenant
		}

		token, err := usecases.NewAuthUsecase(cfg.JWTSecret).IssueToken(subject, role, tenant, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("tenant", "", "Tenant schema the token acts on (default DEFAULT_TENANT)")
	tokenCmd.Flags().String("subject", "operator", "Identity recorded in the user_id claim")
	tokenCmd.Flags().String("role", "admin", "Role claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	rootCmd.AddCommand(tokenCmd)
}
