// Package importer turns raw RFC 5322 messages into stored email records.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

const (
	defaultBodyLimit       = 256 * 1024
	defaultAttachmentLimit = 25 * 1024 * 1024
)

// Store is the slice of the entity store the importer writes through.
type Store interface {
	FindEmailByMessageID(ctx context.Context, messageID string) (*models.Email, error)
	SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) error
	SaveAttachment(ctx context.Context, att *models.Attachment) error
	FindContactByEmail(ctx context.Context, address string) (*models.Contact, error)
}

// Importer parses fetched messages and persists them as emails.
type Importer struct {
	store           Store
	logger          *log.Logger
	now             func() time.Time
	maxBodyBytes    int64
	attachmentLimit int64
}

// Option customizes an Importer.
type Option func(*Importer)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) {
		if now != nil {
			im.now = now
		}
	}
}

// WithBodyLimit constrains how much of the body is stored.
func WithBodyLimit(limit int64) Option {
	return func(im *Importer) {
		if limit > 0 {
			im.maxBodyBytes = limit
		}
	}
}

// WithAttachmentLimit caps the size of a single stored attachment.
func WithAttachmentLimit(limit int64) Option {
	return func(im *Importer) {
		if limit > 0 {
			im.attachmentLimit = limit
		}
	}
}

// New builds an importer writing to store.
func New(store Store, opts ...Option) *Importer {
	im := &Importer{
		store:           store,
		logger:          log.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		maxBodyBytes:    defaultBodyLimit,
		attachmentLimit: defaultAttachmentLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(im)
		}
	}
	return im
}

// Import stores raw as an email received on account. A message whose Message-ID is
// already stored is not imported twice: the stored record is returned with
// AlreadyFetched set.
func (im *Importer) Import(ctx context.Context, account models.InboundAccount, raw []byte) (*models.Email, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("import: empty message")
	}
	env := im.parse(raw)

	if env.MessageID != "" {
		existing, err := im.store.FindEmailByMessageID(ctx, env.MessageID)
		switch {
		case err == nil:
			existing.AlreadyFetched = true
			return existing, nil
		case !repository.IsNotFound(err):
			return nil, fmt.Errorf("import: lookup %s: %w", env.MessageID, err)
		}
	}

	email := &models.Email{
		MessageID:        env.MessageID,
		FromAddress:      env.FromAddress,
		FromName:         env.FromName,
		ToAddresses:      env.To,
		ReplyToAddress:   env.ReplyTo,
		Subject:          env.Subject,
		Body:             env.Body,
		IsHTML:           env.IsHTML,
		Status:           models.EmailStatusArchived,
		InReplyTo:        env.InReplyTo,
		References:       env.References,
		InboundAccountID: account.ID,
		TeamIDs:          models.UnionIDs(nil, account.TeamID),
	}
	if !env.Date.IsZero() {
		d := env.Date.UTC()
		email.DateSent = &d
	} else {
		d := im.now()
		email.DateSent = &d
	}

	if err := im.linkThread(ctx, email); err != nil {
		return nil, err
	}
	if err := im.linkSenderAccount(ctx, email); err != nil {
		return nil, err
	}
	for _, part := range env.Attachments {
		att := &models.Attachment{
			Name:     part.filename,
			Type:     part.contentType,
			Role:     "Attachment",
			Contents: part.data,
		}
		if err := im.store.SaveAttachment(ctx, att); err != nil {
			return nil, fmt.Errorf("import: save attachment %s: %w", part.filename, err)
		}
		email.AttachmentIDs = append(email.AttachmentIDs, att.ID)
	}

	if err := im.store.SaveEmail(ctx, email, models.SaveOptions{}); err != nil {
		if repository.IsDuplicate(err) {
			return im.alreadyStored(ctx, email.MessageID)
		}
		return nil, fmt.Errorf("import: save email: %w", err)
	}
	im.logf("importer: stored %s from %s on account %s (%d attachments)", email.ID, email.FromAddress, account.ID, len(email.AttachmentIDs))
	return email, nil
}

// alreadyStored resolves a Message-ID that another import stored first.
func (im *Importer) alreadyStored(ctx context.Context, messageID string) (*models.Email, error) {
	existing, err := im.store.FindEmailByMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("import: lookup %s after duplicate save: %w", messageID, err)
	}
	im.logf("importer: %s was stored concurrently as %s", messageID, existing.ID)
	existing.AlreadyFetched = true
	return existing, nil
}

// MessageID returns the normalized Message-ID header of raw, reading only the
// header block. It returns "" when the header is missing or unreadable.
func MessageID(raw []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}
	return normalizeMessageID(h.Get("Message-Id"))
}

// linkThread copies the parent of the newest referenced email already on file.
func (im *Importer) linkThread(ctx context.Context, email *models.Email) error {
	candidates := make([]string, 0, len(email.References)+1)
	if email.InReplyTo != "" {
		candidates = append(candidates, email.InReplyTo)
	}
	for i := len(email.References) - 1; i >= 0; i-- {
		candidates = append(candidates, email.References[i])
	}
	for _, id := range candidates {
		ref, err := im.store.FindEmailByMessageID(ctx, id)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("import: thread lookup %s: %w", id, err)
		}
		if ref.Parent != nil && ref.Parent.ID != "" {
			email.SetParent(ref.Parent.Type, ref.Parent.ID)
			return nil
		}
	}
	return nil
}

func (im *Importer) linkSenderAccount(ctx context.Context, email *models.Email) error {
	if email.FromAddress == "" {
		return nil
	}
	contact, err := im.store.FindContactByEmail(ctx, email.FromAddress)
	if repository.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("import: sender lookup: %w", err)
	}
	email.AccountID = contact.AccountID
	return nil
}

func (im *Importer) bodyLimit() int64 {
	if im == nil || im.maxBodyBytes <= 0 {
		return defaultBodyLimit
	}
	return im.maxBodyBytes
}

func (im *Importer) attachmentLimitBytes() int64 {
	if im == nil || im.attachmentLimit <= 0 {
		return defaultAttachmentLimit
	}
	return im.attachmentLimit
}

func (im *Importer) logf(format string, args ...any) {
	if im == nil || im.logger == nil {
		return
	}
	im.logger.Printf(format, args...)
}
