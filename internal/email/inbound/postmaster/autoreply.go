package postmaster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
	"github.com/gotrs-io/gotrs-caseflow/internal/keylock"
	"github.com/gotrs-io/gotrs-caseflow/internal/mailer"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
	"github.com/gotrs-io/gotrs-caseflow/internal/template"
)

const (
	DefaultAutoReplyLimit          = 5
	DefaultAutoReplySuppressPeriod = 2 * time.Hour
	DefaultSystemUserID            = "system"
)

// Outcome classifies an auto-reply attempt.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// SkipReason explains a skipped auto-reply.
type SkipReason string

const (
	SkipNoFromAddress SkipReason = "no_from_address"
	SkipNoTemplate    SkipReason = "no_template"
	SkipRateLimited   SkipReason = "rate_limited"
)

// Result is what AutoReplyGuard.Send reports back. Reply is the persisted
// draft when one was created, even if sending it failed.
type Result struct {
	Outcome Outcome
	Reason  SkipReason
	Err     error
	Reply   *models.Email

	delivered bool
}

func sent(reply *models.Email) Result { return Result{Outcome: OutcomeSent, Reply: reply} }

func skipped(reason SkipReason) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }

func failed(err error, reply *models.Email) Result {
	return Result{Outcome: OutcomeFailed, Err: err, Reply: reply}
}

// GuardStore is the slice of the entity store the guard uses.
type GuardStore interface {
	CountSentEmails(ctx context.Context, q repository.SentEmailQuery) (int, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) error
}

// Renderer parses reply templates.
type Renderer interface {
	Render(ctx context.Context, templateID string, data template.Data, wrapInHTML bool) (*template.Rendered, error)
}

// MailSender starts outbound messages.
type MailSender interface {
	Create() *mailer.Message
}

// Decrypter reveals stored transport passwords.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// AutoReplyGuard decides whether an inbound email gets an automatic answer
// and sends it. It never logs; callers act on the returned Result.
type AutoReplyGuard struct {
	store        GuardStore
	renderer     Renderer
	sender       MailSender
	secrets      Decrypter
	limit        int
	period       time.Duration
	systemUserID string
	now          func() time.Time
	limiter      ReplyLimiter
	recipients   keylock.Locker
}

// GuardOption customizes an AutoReplyGuard.
type GuardOption func(*AutoReplyGuard)

// WithReplyLimit sets how many replies one address may receive per period.
// Zero disables auto-replies; negative values are ignored.
func WithReplyLimit(limit int) GuardOption {
	return func(g *AutoReplyGuard) {
		if limit >= 0 {
			g.limit = limit
		}
	}
}

// WithReplyLimiter adds a limiter shared with other nodes. It is consulted
// after the local count and released when the reply is not delivered.
func WithReplyLimiter(l ReplyLimiter) GuardOption {
	return func(g *AutoReplyGuard) {
		g.limiter = l
	}
}

// WithSuppressPeriod sets the sliding rate-limit window.
func WithSuppressPeriod(period time.Duration) GuardOption {
	return func(g *AutoReplyGuard) {
		if period > 0 {
			g.period = period
		}
	}
}

// WithSystemUser sets the creator id stamped on replies and used by the rate limit.
func WithSystemUser(id string) GuardOption {
	return func(g *AutoReplyGuard) {
		if id != "" {
			g.systemUserID = id
		}
	}
}

// WithSecrets wires the codec used for per-account SMTP passwords.
func WithSecrets(d Decrypter) GuardOption {
	return func(g *AutoReplyGuard) {
		g.secrets = d
	}
}

// WithGuardClock overrides the wall clock, primarily for tests.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *AutoReplyGuard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewAutoReplyGuard wires the guard to its collaborators.
func NewAutoReplyGuard(store GuardStore, renderer Renderer, sender MailSender, opts ...GuardOption) *AutoReplyGuard {
	g := &AutoReplyGuard{
		store:        store,
		renderer:     renderer,
		sender:       sender,
		limit:        DefaultAutoReplyLimit,
		period:       DefaultAutoReplySuppressPeriod,
		systemUserID: DefaultSystemUserID,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Send answers email on behalf of account. c and user are optional template
// context. Sends to one recipient are serialized from the rate-limit count
// until the sent reply is stored.
func (g *AutoReplyGuard) Send(ctx context.Context, account *models.InboundAccount, email *models.Email, c *models.Case, user *models.User) (res Result) {
	if email == nil || strings.TrimSpace(email.FromAddress) == "" {
		return skipped(SkipNoFromAddress)
	}
	if account == nil || account.ReplyEmailTemplateID == "" {
		return skipped(SkipNoTemplate)
	}
	if g.limit <= 0 {
		return skipped(SkipRateLimited)
	}
	to := strings.TrimSpace(email.FromAddress)
	key := models.NormalizeAddress(to)

	unlock, err := g.recipients.Lock(ctx, key)
	if err != nil {
		return failed(fmt.Errorf("wait for reply slot: %w", err), nil)
	}
	defer unlock()

	count, err := g.store.CountSentEmails(ctx, repository.SentEmailQuery{
		To:          to,
		Since:       g.now().Add(-g.period),
		CreatedByID: g.systemUserID,
	})
	if err != nil {
		return failed(fmt.Errorf("count sent replies: %w", err), nil)
	}
	if count >= g.limit {
		return skipped(SkipRateLimited)
	}
	if g.limiter != nil {
		ok, err := g.limiter.Reserve(ctx, key, g.limit, g.period)
		if err != nil {
			return failed(fmt.Errorf("reserve reply slot: %w", err), nil)
		}
		if !ok {
			return skipped(SkipRateLimited)
		}
		defer func() {
			if res.Outcome != OutcomeSent && !res.delivered {
				_ = g.limiter.Release(context.WithoutCancel(ctx), key)
			}
		}()
	}

	headers := make([]mailer.Header, 0, 4)
	if email.MessageID != "" {
		headers = append(headers, mailer.Header{Key: "In-Reply-To", Value: email.MessageID})
	}
	headers = append(headers,
		mailer.Header{Key: "Auto-Submitted", Value: "auto-replied"},
		mailer.Header{Key: "X-Auto-Response-Suppress", Value: "All"},
		mailer.Header{Key: "Precedence", Value: "auto_reply"},
	)

	contact, err := g.resolveContact(ctx, email, c)
	if err != nil {
		return failed(err, nil)
	}
	rendered, err := g.renderer.Render(ctx, account.ReplyEmailTemplateID, template.Data{
		Case:    c,
		Contact: contact,
		Email:   email,
		User:    user,
	}, true)
	if err != nil {
		return failed(fmt.Errorf("render reply: %w", err), nil)
	}

	subject := rendered.Subject
	if c != nil {
		subject = fmt.Sprintf("[#%d] %s", c.Number, subject)
	}
	reply := &models.Email{
		ToAddresses:      []string{to},
		Subject:          subject,
		Body:             rendered.Body,
		IsHTML:           rendered.IsHTML,
		AttachmentIDs:    append([]string(nil), rendered.AttachmentIDs...),
		TeamIDs:          append([]string(nil), email.TeamIDs...),
		Status:           models.EmailStatusDraft,
		InReplyTo:        email.MessageID,
		InboundAccountID: account.ID,
		CreatedByID:      g.systemUserID,
	}
	if email.Parent != nil && email.Parent.ID != "" && email.Parent.Type != "" {
		reply.SetParent(email.Parent.Type, email.Parent.ID)
	}
	if err := g.store.SaveEmail(ctx, reply, models.SaveOptions{}); err != nil {
		return failed(fmt.Errorf("save reply draft: %w", err), nil)
	}

	msg := g.sender.Create()
	if account.CanSend() {
		settings, err := g.smtpSettings(account)
		if err != nil {
			return failed(err, reply)
		}
		msg = msg.WithSMTP(settings)
	}
	if err := msg.WithIdentity(senderIdentity(account)).WithHeaders(headers...).Send(ctx, reply); err != nil {
		return failed(err, reply)
	}
	if err := g.store.SaveEmail(ctx, reply, models.SaveOptions{}); err != nil {
		res = failed(fmt.Errorf("save sent reply: %w", err), reply)
		res.delivered = true
		return res
	}
	return sent(reply)
}

// resolveContact prefers the case contact and otherwise builds a transient
// one from the sender's display name.
func (g *AutoReplyGuard) resolveContact(ctx context.Context, email *models.Email, c *models.Case) (*models.Contact, error) {
	if c != nil && c.ContactID != "" {
		contact, err := g.store.GetContact(ctx, c.ContactID)
		switch {
		case err == nil:
			return contact, nil
		case !repository.IsNotFound(err):
			return nil, fmt.Errorf("load contact %s: %w", c.ContactID, err)
		}
	}
	name := strings.TrimSpace(email.FromName)
	if name == "" {
		local, _, _ := strings.Cut(email.FromAddress, "@")
		name = cases.Title(language.Und).String(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local))
	}
	return &models.Contact{Name: name, EmailAddresses: []string{email.FromAddress}}, nil
}

func (g *AutoReplyGuard) smtpSettings(account *models.InboundAccount) (models.SMTPSettings, error) {
	settings := account.SMTP
	if settings.Password == "" || g.secrets == nil {
		return settings, nil
	}
	plain, err := g.secrets.Decrypt(settings.Password)
	switch {
	case err == nil:
		settings.Password = plain
	case errors.Is(err, crypt.ErrNoKey):
	default:
		return models.SMTPSettings{}, fmt.Errorf("decrypt smtp password: %w", err)
	}
	return settings, nil
}

// senderIdentity layers the account overrides: the reply from-name wins over
// the account from-name.
func senderIdentity(account *models.InboundAccount) mailer.Identity {
	id := mailer.Identity{
		FromName:       account.FromName,
		FromAddress:    account.ReplyFromAddress,
		ReplyToAddress: account.ReplyToAddress,
	}
	if account.ReplyFromName != "" {
		id.FromName = account.ReplyFromName
	}
	return id
}
