package postmaster

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/gotrs-io/gotrs-caseflow/internal/distribution"
	"github.com/gotrs-io/gotrs-caseflow/internal/mailer"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/notifications"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
	"github.com/gotrs-io/gotrs-caseflow/internal/template"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingTransport struct {
	mu   sync.Mutex
	sent []mailer.Envelope
	err  error
}

func (r *recordingTransport) Send(_ context.Context, env mailer.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingTransport) envelopes() []mailer.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Envelope(nil), r.sent...)
}

type harness struct {
	store      *repository.MemoryStore
	transport  *recordingTransport
	sender     *mailer.Sender
	guard      *AutoReplyGuard
	dispatcher *Dispatcher
	logs       *bytes.Buffer
}

type harnessConfig struct {
	guardOpts      []GuardOption
	senderOpts     []mailer.SenderOption
	dispatcherOpts []DispatcherOption
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	store := repository.NewMemoryStore(repository.WithMemoryClock(func() time.Time { return testNow }))
	store.PutTeam(models.Team{ID: "t1", Name: "Support"},
		models.TeamMember{TeamID: "t1", UserID: "u1", Role: "agent"},
		models.TeamMember{TeamID: "t1", UserID: "u2", Role: "agent"},
		models.TeamMember{TeamID: "t1", UserID: "u3", Role: "agent"},
		models.TeamMember{TeamID: "t1", UserID: "u4", Role: "lead"},
	)
	for _, u := range []models.User{
		{ID: "u1", UserName: "ann", Name: "Ann", Active: true},
		{ID: "u2", UserName: "bob", Name: "Bob", Active: true},
		{ID: "u3", UserName: "cid", Name: "Cid", Active: true},
		{ID: "u4", UserName: "dee", Name: "Dee", Active: true},
	} {
		store.PutUser(u)
	}
	store.PutEmailTemplate(models.EmailTemplate{
		ID:      "tpl",
		Name:    "Acknowledgement",
		Subject: "Re: {{ Email.Subject }}",
		Body:    "Hello {{ Person.Name }}, we got your message.",
	})
	store.PutEmailTemplate(models.EmailTemplate{
		ID:      "tpl-agent",
		Name:    "Acknowledgement with agent",
		Subject: "Re: {{ Email.Subject }}",
		Body:    "{{ User.Name }} will answer {{ Person.Name }} shortly.",
	})

	logs := &bytes.Buffer{}
	logger := log.New(logs, "", 0)
	transport := &recordingTransport{}
	senderOpts := append([]mailer.SenderOption{
		mailer.WithAttachmentSource(store),
		mailer.WithClock(func() time.Time { return testNow }),
		mailer.WithLogger(log.New(io.Discard, "", 0)),
	}, cfg.senderOpts...)
	sender := mailer.NewSender(mailer.Defaults{FromAddress: "support@acme.test", FromName: "Acme Support", Domain: "acme.test"}, transport, senderOpts...)

	guardOpts := append([]GuardOption{WithGuardClock(func() time.Time { return testNow })}, cfg.guardOpts...)
	guard := NewAutoReplyGuard(store, template.NewRenderer(store), sender, guardOpts...)

	stream := notifications.NewStream(store, notifications.WithLogger(log.New(io.Discard, "", 0)))
	assigner := distribution.NewAssigner(store, distribution.NewMemoryCursorStore(), store)
	dispatcherOpts := append([]DispatcherOption{WithDispatcherLogger(logger)}, cfg.dispatcherOpts...)
	return &harness{
		store:      store,
		transport:  transport,
		sender:     sender,
		guard:      guard,
		dispatcher: NewDispatcher(store, stream, assigner, guard, dispatcherOpts...),
		logs:       logs,
	}
}

// inbound stores a freshly fetched email.
func (h *harness) inbound(t *testing.T, email *models.Email) *models.Email {
	t.Helper()
	if email.FromAddress == "" {
		email.FromAddress = "jane.doe@example.com"
	}
	if email.Status == "" {
		email.Status = models.EmailStatusArchived
	}
	if err := h.store.SaveEmail(context.Background(), email, models.SaveOptions{}); err != nil {
		t.Fatalf("seed email: %v", err)
	}
	return email
}

func (h *harness) reload(t *testing.T, id string) *models.Email {
	t.Helper()
	e, err := h.store.GetEmail(context.Background(), id)
	if err != nil {
		t.Fatalf("reload email %s: %v", id, err)
	}
	return e
}

func (h *harness) notes(t *testing.T, parent models.ParentLink) []models.Note {
	t.Helper()
	notes, err := h.store.ListNotes(context.Background(), parent)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	return notes
}

func caseAccount() *models.InboundAccount {
	return &models.InboundAccount{
		ID:               "support",
		Name:             "Support",
		CreateCase:       true,
		CaseDistribution: models.DistributionNone,
		TeamID:           "t1",
	}
}

func parseSent(t *testing.T, env mailer.Envelope) (*mail.Reader, string) {
	t.Helper()
	r, err := mail.CreateReader(bytes.NewReader(env.Raw))
	if err != nil {
		t.Fatalf("parse sent message: %v", err)
	}
	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("read first part: %v", err)
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return r, string(body)
}
