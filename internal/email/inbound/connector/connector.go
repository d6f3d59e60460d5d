// Package connector pulls raw messages out of shared mailboxes.
package connector

import (
	"context"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// FetchedMessage wraps the on-wire RFC 5322 payload plus derived metadata.
type FetchedMessage struct {
	AccountID  string
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    models.InboundAccount
}

// AccountSnapshot returns the account configuration captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() models.InboundAccount {
	return m.account
}

// WithAccount captures the account configuration on the message.
func (m *FetchedMessage) WithAccount(acc models.InboundAccount) {
	m.account = acc
	m.AccountID = acc.ID
}

// Handler receives fully fetched messages and hands them to the postmaster.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error {
	return f(ctx, msg)
}

// Fetcher implementations (POP3, IMAP) stream messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account models.InboundAccount, handler Handler) error
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account models.InboundAccount) (Fetcher, error)
}
