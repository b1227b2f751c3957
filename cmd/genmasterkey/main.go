package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"agridetect/internal/crypto"
)

func main() {
	var (
		out       string
		force     bool
		printOnly bool
	)
	cmd := &cobra.Command{
		Use:           "agridetect-genmasterkey",
		Short:         "Generate the master key used to sign tokens and encrypt stored images",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hexKey, err := crypto.NewMasterKeyHex()
			if err != nil {
				return fmt.Errorf("generating random key: %w", err)
			}
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), hexKey)
				return nil
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists; refusing to overwrite (use --force)", out)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out, []byte(hexKey+"\n"), 0600); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Master key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "master.key", "output file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key (invalidates sessions and stored images)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the key for MASTER_KEY_HEX instead of writing a file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
