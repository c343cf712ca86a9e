// Package cmd defines and implements the CLI commands for the pageaudit executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pageaudit",
		Short: "A web page performance audit service.",
		Long: `pageaudit accepts page audit runs over HTTP, loads each page in a
headless browser, re-downloads its assets to weigh them, and grades the
collected metrics into per-category and global scores.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pageaudit.yaml)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
