package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/4runr/gateway/internal/crypto"
)

var wrapCmd = &cobra.Command{
	Use:   "wrap [plaintext]",
	Short: "Encrypt an upstream credential for the wrapped secrets provider",
	Long: `Encrypts a credential with the key in GATEWAY_CREDENTIAL_KEY and prints
the wrapped value, suitable for the secrets.wrapped config map.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hexKey := os.Getenv("GATEWAY_CREDENTIAL_KEY")
		if hexKey == "" {
			return fmt.Errorf("GATEWAY_CREDENTIAL_KEY is not set")
		}
		wrapper, err := crypto.NewKeyWrapper(hexKey)
		if err != nil {
			return err
		}
		wrapped, err := wrapper.Wrap(args[0])
		if err != nil {
			return err
		}
		fmt.Println(wrapped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(wrapCmd)
}
