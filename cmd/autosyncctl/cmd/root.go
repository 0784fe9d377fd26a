package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autosyncctl",
	Short: "Operator CLI for the AutoCare Pro sync agent",
	Long: `autosyncctl inspects a sync agent's local cache and outbox on disk
and talks to a running agent over its local API.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7180", "base URL of a running agent")
	rootCmd.PersistentFlags().String("api-key", "", "admin API key for the agent's local API")
}
