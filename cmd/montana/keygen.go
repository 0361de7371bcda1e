package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eigerco/montana/internal/crypto"
)

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Prints a new node key seed and its public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed := make([]byte, 32)
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			kp, err := crypto.KeypairFromSeed(seed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key_seed:   %s\n", hex.EncodeToString(seed))
			fmt.Fprintf(out, "public_key: %s\n", kp.PublicKey())
			return nil
		},
	}
}
