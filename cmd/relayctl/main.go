// Command relayctl is a terminal client for the chat relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	serverAddr    string
	participantID string
	displayName   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Terminal client for the chat relay",
	Long: `relayctl watches the live conversation, posts messages and manages
bots on a running relay.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", envOr("RELAY_SERVER", "http://localhost:8080"), "relay base URL")
	rootCmd.PersistentFlags().StringVarP(&participantID, "participant", "p", envOr("RELAY_PARTICIPANT", "p_relayctl"), "participant id")
	rootCmd.PersistentFlags().StringVarP(&displayName, "name", "n", envOr("RELAY_NAME", "relayctl"), "display name")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
