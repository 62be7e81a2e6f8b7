package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

var burnerCmd = &cobra.Command{
	Use:   "burner",
	Short: "Inspect or clear the stored burner key",
}

var burnerAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the burner address of the configured profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, closeKeys, err := keyStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeKeys()

		key, err := keys.Load(cmd.Context(), profile())
		if errors.Is(err, signer.ErrKeyNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "no burner key stored")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

var burnerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the burner key; a new one is created on next use",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, closeKeys, err := keyStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeKeys()

		if err := signer.NewResolver(keys, profile()).ClearBurner(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "burner key for profile %q cleared\n", profile())
		return nil
	},
}

func init() {
	burnerCmd.AddCommand(burnerAddressCmd, burnerClearCmd)
	rootCmd.AddCommand(burnerCmd)
}

func profile() string {
	if cfg.Burner.Profile == "" {
		return signer.DefaultProfile
	}
	return cfg.Burner.Profile
}
