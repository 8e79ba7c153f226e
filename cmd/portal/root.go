// Command portal runs the Portal identity-and-payment server, or helper
// subcommands for generating keys and inspecting a running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Portal: an identity and payment server over Nostr",
	RunE:  requireSubcommand,
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "portal.toml", "path to the server config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keypairCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
