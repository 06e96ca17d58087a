package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skycoin/meshrouter/pkg/cipher"
)

// newKeygenCmd returns the "keygen" subcommand, which generates a fresh
// static key pair for a node's config file. Grounded on skywire-cli's
// node subcommands for the one-shot generate-and-print shape, without
// that command's config-file scaffolding: this just prints the pair.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new node key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pk, sk := cipher.GenerateKeyPair()
			fmt.Fprintln(cmd.OutOrStdout(), "public_key:", pk.Hex())
			fmt.Fprintln(cmd.OutOrStdout(), "secret_key:", sk.Hex())
			fmt.Fprintln(cmd.OutOrStdout(), "node_name: ", cipher.NodeNameFromPubKey(pk).String())
			return nil
		},
	}
}
