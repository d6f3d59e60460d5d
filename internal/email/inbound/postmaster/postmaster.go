// Package postmaster decides what happens to inbound email: linking it to an
// existing case, opening a new one, and answering it automatically.
package postmaster

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/importer"
	"github.com/gotrs-io/gotrs-caseflow/internal/keylock"
	"github.com/gotrs-io/gotrs-caseflow/internal/metrics"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// Importer turns raw messages into stored emails.
type Importer interface {
	Import(ctx context.Context, account models.InboundAccount, raw []byte) (*models.Email, error)
}

// Processor applies the account workflow to an imported email.
type Processor interface {
	Process(ctx context.Context, account *models.InboundAccount, email *models.Email, flags Flags) error
}

// messageLocks serializes handling of one Message-ID across Services that
// were not given their own Locks.
var messageLocks keylock.Locker

// Service wires connectors, filters, the importer and the dispatcher together.
type Service struct {
	FilterChain filters.Chain
	Importer    Importer
	Handler     Processor
	Metrics     *metrics.Pipeline
	// Locks holds one lock per Message-ID for the import and dispatch of a
	// message. Nil uses a process-wide locker.
	Locks *keylock.Locker
}

// Handle implements connector.Handler by running the filter chain, importing
// the message and dispatching it.
func (s Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	if msg == nil {
		return nil
	}
	start := time.Now()
	defer s.Metrics.Since(start)

	account := msg.AccountSnapshot()
	ctxMsg := &filters.MessageContext{
		Account:     account,
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		return fmt.Errorf("postmaster: filters: %w", err)
	}
	if id := importer.MessageID(msg.Raw); id != "" {
		locks := s.Locks
		if locks == nil {
			locks = &messageLocks
		}
		unlock, err := locks.Lock(ctx, id)
		if err != nil {
			return fmt.Errorf("postmaster: %s: wait for %s: %w", msg.RemoteID, id, err)
		}
		defer unlock()
	}
	email, err := s.Importer.Import(ctx, account, msg.Raw)
	if err != nil {
		return fmt.Errorf("postmaster: %s: %w", msg.RemoteID, err)
	}
	return s.Handler.Process(ctx, &account, email, FlagsFromContext(ctxMsg))
}
