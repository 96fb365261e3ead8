package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
	commit     = "unknown"
	date       = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "postbox",
		Short: "Postbox - database-backed e-mail dispatch queue",
		Long: `Postbox stores outgoing e-mails as durable database records before
sending, allowing deferred, scheduled, retried, and audited delivery
instead of fire-and-forget transmission.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(resendCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(testCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
