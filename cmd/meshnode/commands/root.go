// Package commands implements the meshnode CLI: a demo harness that brings
// up a single mesh process, listens for and dials NodeLinks to configured
// peers, and binds a route to each peer at its configured sublink, answering
// it with an echo portal. Grounded on
// pkg/skywire-node/commands and pkg/setup-node/commands' root/run split,
// with viper config-file loading following mosaicnetworks-babble's
// cmd/babble/commands/run.go (bindFlagsLoadViper's flag-then-file
// unmarshal order).
package commands

import (
	stdlog "log"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Run a mesh routing node",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./meshnode.yaml)")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newKeygenCmd())
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		stdlog.Fatal(err)
	}
}
