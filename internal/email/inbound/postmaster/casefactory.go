package postmaster

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/gotrs-io/gotrs-caseflow/internal/distribution"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

// CaseParams carries the account settings that shape a new case.
type CaseParams struct {
	Distribution     models.DistributionMode
	TeamID           string
	UserID           string
	TargetPosition   string
	InboundAccountID string
}

// ParamsFromAccount reads the case settings of an inbound account.
func ParamsFromAccount(account *models.InboundAccount) CaseParams {
	return CaseParams{
		Distribution:     account.CaseDistribution,
		TeamID:           account.TeamID,
		UserID:           account.AssignToUserID,
		TargetPosition:   account.TargetUserPosition,
		InboundAccountID: account.ID,
	}
}

// FactoryStore is the slice of the entity store the case factory uses.
type FactoryStore interface {
	GetCase(ctx context.Context, id string) (*models.Case, error)
	SaveCase(ctx context.Context, c *models.Case) error
	SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) error
	CopyAttachment(ctx context.Context, id string, parent *models.ParentLink) (*models.Attachment, error)
	FindContactByEmail(ctx context.Context, address string) (*models.Contact, error)
	FindLeadByEmail(ctx context.Context, address string) (*models.Lead, error)
}

// Assigner picks the user a new case goes to.
type Assigner interface {
	Assign(ctx context.Context, req distribution.Request) (string, error)
}

// FieldSchema supplies defaults for, and validates, case custom fields.
type FieldSchema interface {
	Defaults() map[string]any
	Validate(extra map[string]any) error
}

// CaseFactory builds new cases from inbound emails.
type CaseFactory struct {
	store    FactoryStore
	assigner Assigner
	fields   FieldSchema
}

// FactoryOption customizes a CaseFactory.
type FactoryOption func(*CaseFactory)

// WithFieldSchema validates case custom fields before the case is saved.
func WithFieldSchema(fields FieldSchema) FactoryOption {
	return func(f *CaseFactory) {
		f.fields = fields
	}
}

// NewCaseFactory wires a factory to the store and the distribution strategies.
func NewCaseFactory(store FactoryStore, assigner Assigner, opts ...FactoryOption) *CaseFactory {
	f := &CaseFactory{store: store, assigner: assigner}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// CreateFromEmail opens a case for email, links the email to it and returns
// the stored case.
func (f *CaseFactory) CreateFromEmail(ctx context.Context, email *models.Email, params CaseParams) (*models.Case, error) {
	c := models.NewCase()
	if f.fields != nil {
		c.Extra = f.fields.Defaults()
	}
	c.Name = email.Subject
	if !isBlank(email.Body) {
		c.Description = email.Body
	}

	for _, id := range email.AttachmentIDs {
		cp, err := f.store.CopyAttachment(ctx, id, nil)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create case: copy attachment %s: %w", id, err)
		}
		c.AttachmentIDs = append(c.AttachmentIDs, cp.ID)
	}

	if params.InboundAccountID != "" {
		c.InboundAccountID = params.InboundAccountID
	}
	if params.TeamID != "" {
		c.TeamIDs = []string{params.TeamID}
	}

	userID, err := f.assigner.Assign(ctx, distribution.Request{
		Mode:     params.Distribution,
		TeamID:   params.TeamID,
		UserID:   params.UserID,
		Position: params.TargetPosition,
	})
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	c.Assign(userID)
	if c.IsAssigned() {
		email.AssignedUserID = c.AssignedUserID
	}

	if email.AccountID != "" {
		c.AccountID = email.AccountID
	}
	if err := f.linkSender(ctx, c, email.FromAddress); err != nil {
		return nil, err
	}

	if f.fields != nil {
		if err := f.fields.Validate(c.Extra); err != nil {
			return nil, fmt.Errorf("create case: %w", err)
		}
	}
	if err := f.store.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: save: %w", err)
	}

	email.SetParent(models.EntityCase, c.ID)
	if err := f.store.SaveEmail(ctx, email, linkOnlySave); err != nil {
		return nil, fmt.Errorf("create case: save email %s: %w", email.ID, err)
	}

	stored, err := f.store.GetCase(ctx, c.ID)
	if err == nil {
		return stored, nil
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("create case: reload %s: %w", c.ID, err)
	}
	return c, nil
}

// linkSender attaches the contact owning the from address, or a lead when the
// case has no account.
func (f *CaseFactory) linkSender(ctx context.Context, c *models.Case, from string) error {
	if strings.TrimSpace(from) == "" {
		return nil
	}
	contact, err := f.store.FindContactByEmail(ctx, from)
	switch {
	case err == nil:
		c.ContactID = contact.ID
		return nil
	case !repository.IsNotFound(err):
		return fmt.Errorf("create case: contact lookup: %w", err)
	}
	if c.AccountID != "" {
		return nil
	}
	lead, err := f.store.FindLeadByEmail(ctx, from)
	switch {
	case err == nil:
		c.LeadID = lead.ID
	case !repository.IsNotFound(err):
		return fmt.Errorf("create case: lead lookup: %w", err)
	}
	return nil
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
