package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nostrportal/portal/internal/identity"
)

var keypairCmd = &cobra.Command{
	Use:   "keypair",
	Short: "Manage Nostr keypairs",
	RunE:  requireSubcommand,
}

var keypairGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new keypair and print it as hex",
	RunE:  runKeypairGenerate,
}

func init() {
	keypairCmd.AddCommand(keypairGenerateCmd)
}

func runKeypairGenerate(cmd *cobra.Command, args []string) error {
	kp, err := identity.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	fmt.Printf("private_key = %q\n", kp.PrivateKeyHex())
	fmt.Printf("public_key  = %q\n", kp.PubKey().String())
	return nil
}
