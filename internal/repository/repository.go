// Package repository persists the entities the inbound pipeline reads and writes.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrDuplicate is returned when a new email reuses a stored Message-ID.
var ErrDuplicate = errors.New("duplicate message id")

// IsDuplicate reports whether err wraps ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// SentEmailQuery filters outbound emails for auto-reply rate limiting.
type SentEmailQuery struct {
	To          string
	Since       time.Time
	CreatedByID string
}

// Store is the full entity store consumed by the inbound pipeline.
type Store interface {
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	FindEmailByMessageID(ctx context.Context, messageID string) (*models.Email, error)
	SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) error
	CountSentEmails(ctx context.Context, q SentEmailQuery) (int, error)

	GetCase(ctx context.Context, id string) (*models.Case, error)
	FindCaseByNumber(ctx context.Context, number int64) (*models.Case, error)
	SaveCase(ctx context.Context, c *models.Case) error
	CountOpenCases(ctx context.Context, userID string) (int, error)

	GetTeam(ctx context.Context, id string) (*models.Team, error)
	TeamMembers(ctx context.Context, teamID string) ([]models.TeamMember, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	GetContact(ctx context.Context, id string) (*models.Contact, error)
	FindContactByEmail(ctx context.Context, address string) (*models.Contact, error)
	FindLeadByEmail(ctx context.Context, address string) (*models.Lead, error)

	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	SaveAttachment(ctx context.Context, att *models.Attachment) error
	CopyAttachment(ctx context.Context, id string, parent *models.ParentLink) (*models.Attachment, error)

	GetEmailTemplate(ctx context.Context, id string) (*models.EmailTemplate, error)

	SaveNote(ctx context.Context, note *models.Note) error
	ListNotes(ctx context.Context, parent models.ParentLink) ([]models.Note, error)
	ParentExists(ctx context.Context, link models.ParentLink) (bool, error)
}
