package postmaster

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/importer"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

type stubImporter struct {
	account models.InboundAccount
	raw     []byte
	email   *models.Email
	err     error
}

func (s *stubImporter) Import(_ context.Context, account models.InboundAccount, raw []byte) (*models.Email, error) {
	s.account = account
	s.raw = raw
	if s.err != nil {
		return nil, s.err
	}
	return s.email, nil
}

type stubProcessor struct {
	account *models.InboundAccount
	email   *models.Email
	flags   Flags
	calls   int
}

func (s *stubProcessor) Process(_ context.Context, account *models.InboundAccount, email *models.Email, flags Flags) error {
	s.account = account
	s.email = email
	s.flags = flags
	s.calls++
	return nil
}

type stubFilter struct {
	err error
}

func (f stubFilter) ID() string { return "stub" }

func (f stubFilter) Apply(_ context.Context, m *filters.MessageContext) error {
	if f.err != nil {
		return f.err
	}
	m.Annotate("seen", true)
	return nil
}

func fetchedMessage(account models.InboundAccount, raw string) *connector.FetchedMessage {
	msg := &connector.FetchedMessage{AccountID: account.ID, RemoteID: "support/1", Raw: []byte(raw)}
	msg.WithAccount(account)
	return msg
}

func TestServiceHandleRunsChainImporterAndProcessor(t *testing.T) {
	email := &models.Email{ID: "e1", Subject: "hi"}
	imp := &stubImporter{email: email}
	proc := &stubProcessor{}
	svc := Service{
		FilterChain: filters.NewChain(stubFilter{}, filters.NewLoopDetector(filters.WithLoopDetectorLogger(log.New(io.Discard, "", 0)))),
		Importer:    imp,
		Handler:     proc,
	}
	raw := "From: robot@example.com\r\nAuto-Submitted: auto-replied\r\nSubject: hi\r\n\r\nBody"
	if err := svc.Handle(context.Background(), fetchedMessage(models.InboundAccount{ID: "support", CreateCase: true}, raw)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if imp.account.ID != "support" || string(imp.raw) != raw {
		t.Fatalf("importer got account %q raw %q", imp.account.ID, imp.raw)
	}
	if proc.calls != 1 || proc.email != email {
		t.Fatalf("expected processor to receive the imported email, calls=%d", proc.calls)
	}
	if proc.account == nil || !proc.account.CreateCase {
		t.Fatalf("expected account snapshot to propagate, got %+v", proc.account)
	}
	if !proc.flags.IsAutoReply || !proc.flags.SkipAutoReply {
		t.Fatalf("expected loop flags, got %+v", proc.flags)
	}
}

func TestServiceHandleStopsOnFilterError(t *testing.T) {
	imp := &stubImporter{email: &models.Email{}}
	proc := &stubProcessor{}
	svc := Service{
		FilterChain: filters.NewChain(stubFilter{err: errors.New("boom")}),
		Importer:    imp,
		Handler:     proc,
	}
	err := svc.Handle(context.Background(), fetchedMessage(models.InboundAccount{ID: "support"}, "Subject: x\r\n\r\n"))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected filter error, got %v", err)
	}
	if imp.raw != nil || proc.calls != 0 {
		t.Fatalf("nothing should run after a failing filter")
	}
}

func TestServiceHandleReportsImportError(t *testing.T) {
	proc := &stubProcessor{}
	svc := Service{
		Importer: &stubImporter{err: errors.New("empty message")},
		Handler:  proc,
	}
	err := svc.Handle(context.Background(), fetchedMessage(models.InboundAccount{ID: "support"}, ""))
	if err == nil || !strings.Contains(err.Error(), "support/1") {
		t.Fatalf("expected import error naming the message, got %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("processor should not run")
	}
}

func TestServiceHandleIgnoresNilMessage(t *testing.T) {
	if err := (Service{}).Handle(context.Background(), nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestPipelineOpensCaseThenThreadsReply(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	account := replyAccount()
	svc := Service{
		FilterChain: filters.NewChain(filters.NewLoopDetector(filters.WithLoopDetectorLogger(log.New(io.Discard, "", 0)))),
		Importer:    importer.New(h.store, importer.WithClock(func() time.Time { return testNow }), importer.WithLogger(log.New(io.Discard, "", 0))),
		Handler:     h.dispatcher,
	}
	ctx := context.Background()

	first := "From: Jane Doe <jane.doe@example.com>\r\n" +
		"To: support@acme.test\r\n" +
		"Subject: VPN down\r\n" +
		"Message-ID: <first@example.com>\r\n" +
		"\r\n" +
		"Cannot connect since this morning.\r\n"
	if err := svc.Handle(ctx, fetchedMessage(*account, first)); err != nil {
		t.Fatalf("first message: %v", err)
	}
	cases := h.store.Cases()
	if len(cases) != 1 {
		t.Fatalf("expected one case, got %d", len(cases))
	}
	if cases[0].Name != "VPN down" {
		t.Fatalf("unexpected case name %q", cases[0].Name)
	}
	if got := len(h.transport.envelopes()); got != 1 {
		t.Fatalf("expected one auto-reply, got %d", got)
	}

	followUp := "From: Jane Doe <jane.doe@example.com>\r\n" +
		"To: support@acme.test\r\n" +
		"Subject: Re: VPN down\r\n" +
		"Message-ID: <second@example.com>\r\n" +
		"In-Reply-To: <first@example.com>\r\n" +
		"\r\n" +
		"Still broken.\r\n"
	if err := svc.Handle(ctx, fetchedMessage(*account, followUp)); err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if got := len(h.store.Cases()); got != 1 {
		t.Fatalf("follow-up must not open a case, have %d", got)
	}
	notes := h.notes(t, models.ParentLink{Type: models.EntityCase, ID: cases[0].ID})
	if len(notes) != 2 {
		t.Fatalf("expected two received notes, got %d", len(notes))
	}
	if got := len(h.transport.envelopes()); got != 1 {
		t.Fatalf("follow-up on an existing case is not auto-replied, sent %d", got)
	}

	bounce := "From: MAILER-DAEMON@example.com\r\n" +
		"To: support@acme.test\r\n" +
		"Subject: Undeliverable\r\n" +
		"Auto-Submitted: auto-generated\r\n" +
		"Message-ID: <bounce@example.com>\r\n" +
		"\r\n" +
		"Delivery failed.\r\n"
	if err := svc.Handle(ctx, fetchedMessage(*account, bounce)); err != nil {
		t.Fatalf("bounce: %v", err)
	}
	if got := len(h.store.Cases()); got != 1 {
		t.Fatalf("bounce must not open a case, have %d", got)
	}

	if err := svc.Handle(ctx, fetchedMessage(*account, first)); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if got := len(h.store.Cases()); got != 1 {
		t.Fatalf("refetched message must not open a case, have %d", got)
	}
	if got := len(h.notes(t, models.ParentLink{Type: models.EntityCase, ID: cases[0].ID})); got != 2 {
		t.Fatalf("refetched message must not notify again, notes=%d", got)
	}
}
