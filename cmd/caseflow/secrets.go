package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
)

var generateKeyFlag bool

var encryptSecretCmd = &cobra.Command{
	Use:   "encrypt-secret [value]",
	Short: "Encrypt a mailbox or SMTP password for the accounts file",
	Long: `Encrypt-secret seals a password with security.encryption_key. The value
is read from the argument or, when omitted, from the first line of stdin.
With --generate-key a fresh key is printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncryptSecret,
}

func init() {
	encryptSecretCmd.Flags().BoolVar(&generateKeyFlag, "generate-key", false, "Print a new random encryption key")
}

func runEncryptSecret(cmd *cobra.Command, args []string) error {
	if generateKeyFlag {
		key, err := crypt.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Security.EncryptionKey == "" {
		return errors.New("security.encryption_key is not set")
	}
	codec, err := crypt.NewCodec(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if scanner.Scan() {
			value = strings.TrimRight(scanner.Text(), "\r\n")
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}
	if value == "" {
		return errors.New("nothing to encrypt")
	}
	sealed, err := codec.Encrypt(value)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}
