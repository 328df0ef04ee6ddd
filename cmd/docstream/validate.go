package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/artpar/docstream/adapters/projection"
	"github.com/artpar/docstream/bootstrap"
	"github.com/artpar/docstream/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the docstream configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Every view's jq expression compiles
  - Database is reachable (optional)

Examples:
  docstream validate
  docstream validate --config /etc/docstream/config.yaml --check-database`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the database is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s API keys configured: %d\n", checkMark, len(cfg.Auth.KeyHashes))
	fmt.Fprintf(out, "  %s Streaming flush: %t\n", checkMark, cfg.Streaming.FlushEnabled())

	engine := projection.NewEngine()
	var invalid int
	for _, v := range cfg.Views {
		if err := engine.Validate(projection.JQ(v.Expr)); err != nil {
			fmt.Fprintf(out, "  %s View %s: %v\n", crossMark, v.Name, err)
			invalid++
			continue
		}
		fmt.Fprintf(out, "  %s View %s\n", checkMark, v.Name)
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid view(s)", invalid)
	}

	if validateCheckDatabase {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := bootstrap.OpenStore(ctx, cfg.Database, zerolog.Nop())
		if err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Fprintf(out, "  %s Database reachable\n", checkMark)
	}

	fmt.Fprintln(out, "\nConfiguration valid")
	return nil
}
