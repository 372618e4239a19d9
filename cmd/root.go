package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version   string
	serverURL string
	clientID  string
	jsonOut   bool
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "tabsync",
	Short: "Browser tab synchronization CLI",
	Long: `tabsync - Operator CLI for a tabsyncd server.

Inspects the canonical tab collection, reports server status, and can
follow the command stream the server pushes to a client.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	server := os.Getenv("TABSYNC_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "tabsyncd base URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "cli", "client id to act as")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON")
	rootCmd.Version = "dev"
	cobra.OnInitialize(func() {
		if version != "" {
			rootCmd.Version = version
		}
	})
}
