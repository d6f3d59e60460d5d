// Package adapter prepares configured inbound accounts for the connectors.
package adapter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// Decrypter reveals stored secrets.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// AccountForFetch returns a copy of the account ready to open its mailbox: the type is
// normalized and the mailbox password decrypted. Without an encryption key configured the
// stored password is used as-is.
func AccountForFetch(account models.InboundAccount, secrets Decrypter) (models.InboundAccount, error) {
	out := account
	out.Type = strings.ToLower(strings.TrimSpace(account.Type))
	if out.Type == "" {
		out.Type = "pop3"
	}
	if out.Folder == "" && strings.HasPrefix(out.Type, "imap") {
		out.Folder = "INBOX"
	}
	if account.Password == "" || secrets == nil {
		return out, nil
	}
	plain, err := secrets.Decrypt(account.Password)
	switch {
	case err == nil:
		out.Password = plain
	case errors.Is(err, crypt.ErrNoKey):
	default:
		return models.InboundAccount{}, fmt.Errorf("account %s: decrypt mailbox password: %w", account.ID, err)
	}
	return out, nil
}
