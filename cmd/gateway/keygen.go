package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/4runr/gateway/internal/crypto"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate token key material",
	Long:  "Generates an RSA key pair for token sealing plus fresh signing and credential-wrapping secrets. Key files are written to the output directory; secrets are printed once.",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "keys", "output directory for key files")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pubPEM, privPEM, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	signingSecret, err := crypto.GenerateSecret(32)
	if err != nil {
		return fmt.Errorf("generating signing secret: %w", err)
	}
	credentialKey, err := crypto.GenerateSecret(32)
	if err != nil {
		return fmt.Errorf("generating credential key: %w", err)
	}

	if err := os.MkdirAll(keygenOut, 0o700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	pubPath := keygenOut + "/token_encrypt.pem"
	privPath := keygenOut + "/token_decrypt.pem"
	if err := os.WriteFile(pubPath, pubPEM, 0o600); err != nil {
		return fmt.Errorf("writing encryption key: %w", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("writing decryption key: %w", err)
	}

	fmt.Printf("Wrote %s and %s\n\n", pubPath, privPath)
	fmt.Printf("GATEWAY_SIGNING_SECRET=%s\n", signingSecret)
	fmt.Printf("GATEWAY_CREDENTIAL_KEY=%s\n", credentialKey)
	fmt.Println("\nStore the secrets somewhere safe; they are not persisted.")
	fmt.Println("Encrypt upstream credentials for the wrapped secrets provider with `gateway wrap`.")

	return nil
}
