package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signaling-server",
	Short: "Private call signaling server: rooms, WebSocket signaling, ICE credentials",
	Long:  `HTTP + WebSocket API. Commands: api, migrate, seed, command, room, admin-token.`,
	RunE:  runAPI, // default: run API (same as "signaling-server api")
	// Errors are returned to main, which logs them once.
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
