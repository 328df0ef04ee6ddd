package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docstream",
	Short: "Document service with streamed JSON array responses",
	Long: `docstream stores JSON documents and serves large result sets as
JSON arrays written item by item, so memory use stays flat no matter
how many documents a query returns.

Quick start:
  docstream hash-key        # Generate an API key and its hash
  docstream serve           # Start the server

Data:
  docstream seed books < books.ndjson
  docstream validate        # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "docstream.yaml", "config file path")
}
