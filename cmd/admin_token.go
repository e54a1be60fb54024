package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexsmy/bot-29-sub000/internal/application"
)

var adminUserID int64

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Admin API tokens",
}

var adminTokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a configured admin user",
	RunE:  runAdminTokenIssue,
}

func init() {
	adminTokenIssueCmd.Flags().Int64Var(&adminUserID, "user-id", 0, "admin chat user id (must be in ADMIN_USER_IDS)")
	_ = adminTokenIssueCmd.MarkFlagRequired("user-id")
	adminTokenCmd.AddCommand(adminTokenIssueCmd)
	rootCmd.AddCommand(adminTokenCmd)
}

func runAdminTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if !cfg.IsAdmin(adminUserID) {
		return fmt.Errorf("user %d is not listed in ADMIN_USER_IDS", adminUserID)
	}
	if cfg.StoreDriver == "memory" {
		return fmt.Errorf("admin-token: STORE_DRIVER=memory tokens would not reach the server")
	}
	st, _, err := application.OpenStore(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	tok, err := st.CreateAdminToken(ctx, adminUserID, cfg.AdminTokenLifetime)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token:      %s\nexpires_at: %s\n", tok.Token, tok.ExpiresAt.Format(time.RFC3339))
	return nil
}
