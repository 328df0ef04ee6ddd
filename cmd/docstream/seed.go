package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/artpar/docstream/adapters/clock"
	"github.com/artpar/docstream/adapters/idgen"
	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/bootstrap"
	"github.com/artpar/docstream/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <collection> [file]",
	Short: "Import NDJSON documents into a collection",
	Long: `Import newline-delimited JSON objects into a collection.

Each object becomes one document. A string "id" field is used as the
document id; other objects get a generated id. Reads stdin when no
file is given.

Examples:
  docstream seed books books.ndjson
  cat films.ndjson | docstream seed films`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("seed needs a persistent database, got driver %q", cfg.Database.Driver)
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := context.Background()
	store, err := bootstrap.OpenStore(ctx, cfg.Database, zerolog.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	svc := app.NewDocumentService(store, idgen.UUID{}, clock.Real{}, zerolog.Nop(), app.DocumentServiceConfig{})
	n, err := svc.Import(ctx, args[0], in)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d document(s) into %s\n", n, args[0])
	return err
}
