package main

import (
	"fmt"

	"github.com/artpar/docstream/domain/key"
	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Generate a new API key, or hash an existing one with --key.

Give the raw key to the client and put the hash under auth.key_hashes
in the config file. The raw key is not stored anywhere.

Examples:
  docstream hash-key
  docstream hash-key --prefix svc_
  docstream hash-key --key ds_existing`,
	RunE: runHashKey,
}

var (
	hashKeyPrefix string
	hashKeyRaw    string
)

func init() {
	rootCmd.AddCommand(hashKeyCmd)

	hashKeyCmd.Flags().StringVar(&hashKeyPrefix, "prefix", key.DefaultPrefix, "prefix for generated keys")
	hashKeyCmd.Flags().StringVar(&hashKeyRaw, "key", "", "hash this key instead of generating one")
}

func runHashKey(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if hashKeyRaw != "" {
		hash, err := key.Hash(hashKeyRaw)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Hash: %s\n", hash)
		return nil
	}

	raw, hash, err := key.Generate(hashKeyPrefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "API key: %s\n", raw)
	fmt.Fprintf(out, "Hash:    %s\n", hash)
	fmt.Fprintln(out, "\nAdd the hash to auth.key_hashes. The key is shown only once.")
	return nil
}
