// Package mailer sends outbound email drafts through SMTP or SES.
package mailer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// Envelope is a composed message ready for a transport.
type Envelope struct {
	From string
	To   []string
	Raw  []byte
}

// Transport delivers composed messages.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// AttachmentSource loads attachment contents referenced by a draft.
type AttachmentSource interface {
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
}

// Defaults are the system-wide sender settings.
type Defaults struct {
	FromAddress string
	FromName    string
	Domain      string
}

// Identity overrides the sender of a single message. Empty fields fall
// back to Defaults.
type Identity struct {
	FromAddress    string
	FromName       string
	ReplyToAddress string
}

// Header is a custom header line; order is preserved.
type Header struct {
	Key   string
	Value string
}

// Sender creates per-message builders sharing one default transport.
type Sender struct {
	defaults    Defaults
	transport   Transport
	attachments AttachmentSource
	smtpFactory func(models.SMTPSettings) Transport
	now         func() time.Time
	logger      *log.Logger
}

// SenderOption customizes a Sender.
type SenderOption func(*Sender)

// WithAttachmentSource enables attachment loading for drafts.
func WithAttachmentSource(src AttachmentSource) SenderOption {
	return func(s *Sender) {
		s.attachments = src
	}
}

// WithSMTPFactory replaces how per-account SMTP overrides become transports.
func WithSMTPFactory(f func(models.SMTPSettings) Transport) SenderOption {
	return func(s *Sender) {
		if f != nil {
			s.smtpFactory = f
		}
	}
}

// WithClock overrides the send timestamp source.
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger routes delivery logs.
func WithLogger(l *log.Logger) SenderOption {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSender(defaults Defaults, transport Transport, opts ...SenderOption) *Sender {
	if defaults.Domain == "" {
		defaults.Domain = "localhost"
	}
	s := &Sender{
		defaults:  defaults,
		transport: transport,
		smtpFactory: func(settings models.SMTPSettings) Transport {
			return NewSMTPTransport(settings)
		},
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create starts a new message.
func (s *Sender) Create() *Message {
	return &Message{sender: s}
}

// Message is a single-use send builder.
type Message struct {
	sender   *Sender
	smtp     *models.SMTPSettings
	identity Identity
	headers  []Header
}

// WithSMTP sends this message through the given server instead of the
// default transport.
func (m *Message) WithSMTP(settings models.SMTPSettings) *Message {
	m.smtp = &settings
	return m
}

func (m *Message) WithIdentity(id Identity) *Message {
	m.identity = id
	return m
}

func (m *Message) WithHeaders(headers ...Header) *Message {
	m.headers = append(m.headers, headers...)
	return m
}

// Send composes the draft and delivers it. On success the draft is marked
// sent and carries the final message id and sender address.
func (m *Message) Send(ctx context.Context, draft *models.Email) error {
	if m == nil || m.sender == nil {
		return errors.New("mailer: message not created by a sender")
	}
	s := m.sender
	if draft == nil {
		return errors.New("mailer: nil draft")
	}
	if len(draft.ToAddresses) == 0 {
		return errors.New("mailer: no recipients specified")
	}

	from := firstNonEmpty(m.identity.FromAddress, s.defaults.FromAddress)
	if from == "" && m.smtp != nil {
		from = m.smtp.Username
	}
	if from == "" {
		return errors.New("mailer: no sender address configured")
	}
	name := firstNonEmpty(m.identity.FromName, s.defaults.FromName)

	transport := s.transport
	if m.smtp != nil {
		transport = s.smtpFactory(*m.smtp)
	}
	if transport == nil {
		return errors.New("mailer: no transport configured")
	}

	var attachments []*models.Attachment
	if len(draft.AttachmentIDs) > 0 {
		if s.attachments == nil {
			return errors.New("mailer: draft has attachments but no attachment source")
		}
		for _, id := range draft.AttachmentIDs {
			att, err := s.attachments.GetAttachment(ctx, id)
			if err != nil {
				return fmt.Errorf("mailer: attachment %s: %w", id, err)
			}
			attachments = append(attachments, att)
		}
	}

	now := s.now()
	messageID := draft.MessageID
	if messageID == "" {
		messageID = GenerateMessageID(s.defaults.Domain, now)
	}
	raw, err := compose(composeInput{
		From:        from,
		FromName:    name,
		ReplyTo:     m.identity.ReplyToAddress,
		MessageID:   messageID,
		Date:        now,
		Draft:       draft,
		Headers:     m.headers,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("mailer: compose: %w", err)
	}

	if err := transport.Send(ctx, Envelope{From: from, To: draft.ToAddresses, Raw: raw}); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}

	draft.MessageID = messageID
	draft.FromAddress = from
	draft.FromName = name
	if m.identity.ReplyToAddress != "" {
		draft.ReplyToAddress = m.identity.ReplyToAddress
	}
	draft.Status = models.EmailStatusSent
	draft.DateSent = &now
	s.logger.Printf("mailer: sent %s to %v", messageID, draft.ToAddresses)
	return nil
}

// GenerateMessageID returns a unique Message-ID in angle brackets.
func GenerateMessageID(domain string, now time.Time) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("<%d.%s@%s>", now.Unix(), hex.EncodeToString(b), domain)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
