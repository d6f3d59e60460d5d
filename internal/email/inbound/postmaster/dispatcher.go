package postmaster

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-caseflow/internal/metrics"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

// Flags are the verdicts of the pre-fetch filters.
type Flags struct {
	IsAutoReply   bool
	SkipAutoReply bool
}

// FlagsFromContext reads the loop detection annotations.
func FlagsFromContext(m *filters.MessageContext) Flags {
	return Flags{
		IsAutoReply:   m.Flag(filters.AnnotationAutoReply),
		SkipAutoReply: m.Flag(filters.AnnotationSkipAutoReply),
	}
}

// Store is everything the dispatcher and its components read and write.
type Store interface {
	CorrelatorStore
	FactoryStore
	GuardStore
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ParentExists(ctx context.Context, link models.ParentLink) (bool, error)
}

// Message outcomes reported to metrics.
const (
	outcomeNoted          = "noted"
	outcomeLinked         = "linked"
	outcomeCaseCreated    = "case_created"
	outcomeOrphaned       = "orphaned"
	outcomeLoopSuppressed = "loop_suppressed"
	outcomeReplied        = "auto_reply"
	outcomeMissing        = "missing"
)

// Dispatcher routes an imported email through correlation, case creation and
// auto-reply according to the account configuration.
type Dispatcher struct {
	store      Store
	notifier   NotificationSink
	correlator *Correlator
	factory    *CaseFactory
	guard      *AutoReplyGuard
	metrics    *metrics.Pipeline
	logger     *log.Logger
	factOpts   []FactoryOption
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the logger used for diagnostics.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMetrics records outcomes on the pipeline collectors.
func WithDispatcherMetrics(m *metrics.Pipeline) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithCaseFieldSchema validates custom fields of created cases.
func WithCaseFieldSchema(fields FieldSchema) DispatcherOption {
	return func(d *Dispatcher) {
		d.factOpts = append(d.factOpts, WithFieldSchema(fields))
	}
}

// NewDispatcher wires the correlation and case creation paths. guard may be
// nil, in which case no auto-replies are sent.
func NewDispatcher(store Store, notifier NotificationSink, assigner Assigner, guard *AutoReplyGuard, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		notifier: notifier,
		guard:    guard,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.correlator = NewCorrelator(store, notifier)
	d.factory = NewCaseFactory(store, assigner, d.factOpts...)
	return d
}

// Process applies the account workflow to email. Errors from correlation and
// case creation are returned; auto-reply problems are only logged.
func (d *Dispatcher) Process(ctx context.Context, account *models.InboundAccount, email *models.Email, flags Flags) error {
	if account == nil || email == nil {
		return nil
	}
	outcome, err := d.process(ctx, account, email, flags)
	if err != nil {
		d.metrics.Message(account.ID, "error")
		return fmt.Errorf("postmaster: account %s email %s: %w", account.ID, email.ID, err)
	}
	if outcome != "" {
		d.metrics.Message(account.ID, outcome)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, account *models.InboundAccount, email *models.Email, flags Flags) (string, error) {
	outcome := ""
	if !account.CreateCase && !email.AlreadyFetched {
		noted, err := d.noteAboutEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if noted {
			outcome = outcomeNoted
		}
	}

	if account.CreateCase {
		if flags.IsAutoReply {
			d.logf("postmaster: %s looks automated, no case opened", describe(email))
			return outcomeLoopSuppressed, nil
		}
		target := email
		if email.AlreadyFetched {
			stored, err := d.store.GetEmail(ctx, email.ID)
			if repository.IsNotFound(err) {
				return outcomeMissing, nil
			}
			if err != nil {
				return "", fmt.Errorf("reload email: %w", err)
			}
			stored.AlreadyFetched = true
			target = stored
		} else {
			refreshFetched(email)
		}
		return d.createCase(ctx, account, target)
	}

	if account.Reply {
		if flags.SkipAutoReply {
			d.logf("postmaster: auto-reply suppressed for %s", describe(email))
			return outcome, nil
		}
		user, err := d.lookupUser(ctx, account.AssignedUserID)
		if err != nil {
			return "", err
		}
		if d.autoReply(ctx, account, email, nil, user) {
			outcome = outcomeReplied
		}
	}
	return outcome, nil
}

func (d *Dispatcher) createCase(ctx context.Context, account *models.InboundAccount, email *models.Email) (string, error) {
	existing, err := d.correlator.Correlate(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return outcomeLinked, nil
	}
	if email.ParentIs(models.EntityCase) {
		d.logf("postmaster: %s points at missing case %s, left as is", describe(email), email.Parent.ID)
		return outcomeOrphaned, nil
	}

	c, err := d.factory.CreateFromEmail(ctx, email, ParamsFromAccount(account))
	if err != nil {
		return "", err
	}
	d.metrics.CaseCreated(account.CaseDistribution.String(), c.IsAssigned())

	user, err := d.lookupUser(ctx, c.AssignedUserID)
	if err != nil {
		return "", err
	}
	// The case is already saved; a failed note is logged and the reply still goes out.
	if d.notifier != nil {
		if err := d.notifier.NotifyReceived(ctx, models.ParentLink{Type: models.EntityCase, ID: c.ID}, email, true); err != nil {
			d.logf("postmaster: notify new case %s: %v", c.ID, err)
		}
	}
	if account.Reply {
		d.autoReply(ctx, account, email, c, user)
	}
	return outcomeCaseCreated, nil
}

// noteAboutEmail records the arrival on the email's existing parent, if any.
func (d *Dispatcher) noteAboutEmail(ctx context.Context, email *models.Email) (bool, error) {
	if email.Parent == nil || email.Parent.ID == "" || d.notifier == nil {
		return false, nil
	}
	ok, err := d.store.ParentExists(ctx, *email.Parent)
	if err != nil {
		return false, fmt.Errorf("resolve parent %s %s: %w", email.Parent.Type, email.Parent.ID, err)
	}
	if !ok {
		return false, nil
	}
	if err := d.notifier.NotifyReceived(ctx, *email.Parent, email, false); err != nil {
		return false, fmt.Errorf("notify parent: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) lookupUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	user, err := d.store.GetUser(ctx, id)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return user, nil
}

// autoReply runs the guard and logs its verdict. It reports whether a reply went out.
func (d *Dispatcher) autoReply(ctx context.Context, account *models.InboundAccount, email *models.Email, c *models.Case, user *models.User) bool {
	if d.guard == nil {
		return false
	}
	res := d.guard.Send(ctx, account, email, c, user)
	d.metrics.AutoReply(res.Outcome.String(), string(res.Reason))
	switch res.Outcome {
	case OutcomeFailed:
		d.logf("autoreply: auto-reply error: %v", res.Err)
	case OutcomeSkipped:
		d.logf("autoreply: no reply to %s: %s", describe(email), res.Reason)
	}
	return res.Outcome == OutcomeSent
}

// refreshFetched normalizes fields derived at fetch time on a newly imported email.
func refreshFetched(email *models.Email) {
	email.FromAddress = strings.TrimSpace(email.FromAddress)
	email.Subject = strings.TrimSpace(email.Subject)
	if email.Status == "" {
		email.Status = models.EmailStatusArchived
	}
}

func describe(email *models.Email) string {
	if email.MessageID != "" {
		return email.MessageID
	}
	return "email " + email.ID
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d == nil || d.logger == nil {
		return
	}
	d.logger.Printf(format, args...)
}
