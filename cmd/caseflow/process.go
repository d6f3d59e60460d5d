package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
)

var processAccountFlag string

var processCmd = &cobra.Command{
	Use:   "process <file.eml|->",
	Short: "Run a single raw message through the pipeline",
	Long: `Process reads an RFC 5322 message from a file (or stdin with "-") and
handles it exactly like a message fetched from the account's mailbox.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processAccountFlag, "account", "", "Inbound account ID the message arrived on")
	_ = processCmd.MarkFlagRequired("account")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	raw, err := readMessage(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	account, ok := a.accounts.Account(processAccountFlag)
	if !ok {
		return fmt.Errorf("unknown account %q", processAccountFlag)
	}
	msg := &connector.FetchedMessage{
		Connector:  "file",
		UID:        filepath.Base(args[0]),
		RemoteID:   args[0],
		ReceivedAt: time.Now(),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
	}
	msg.WithAccount(account)
	if err := a.handler.Handle(cmd.Context(), msg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %s on account %s\n", args[0], account.ID)
	return nil
}

func readMessage(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return raw, nil
}
