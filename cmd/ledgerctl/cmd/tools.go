package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/shop-ledger/internal/auth"
	"github.com/example/shop-ledger/pkg/audit"
)

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret",
		Short: "Hash an API client secret read from stdin for the clients file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("empty secret")
			}
			hash, err := auth.HashClientSecret(secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write a new token signing key (PEM)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := auth.GenerateSigningKeyPEM()
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(raw)
				return err
			}
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return err
			}
			if _, err := f.Write(raw); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "file to create; refuses to overwrite")
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with the audit chain log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify <file>",
		Short: "Check that an audit log file is an unbroken hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := audit.ReadChain(f)
			if err != nil {
				return err
			}
			if err := audit.VerifyChain(entries); err != nil {
				return err
			}
			head := audit.GenesisHash
			if len(entries) > 0 {
				head = entries[len(entries)-1].Hash
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d entries, head %s\n", len(entries), head)
			return err
		},
	})
	return cmd
}
