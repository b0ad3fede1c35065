package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "linkctl",
	Short: "linkctl operates device link flows against a devicelink server",
	Long: `A command-line interface for linking provider credentials through the
OAuth 2.0 device authorization grant: start a flow, poll it to resolution,
inspect its status, or cancel it.`,
	SilenceUsage: true,
}

// Execute runs the root command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DEVICELINK_SERVER", "http://localhost:8080"),
		"devicelink server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("DEVICELINK_TOKEN"),
		"bearer token identifying the user")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
