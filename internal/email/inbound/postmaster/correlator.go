package postmaster

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

// subjectTagPattern matches "[#42]" and tolerates trailing text such as "[#42 urgent]".
var subjectTagPattern = regexp.MustCompile(`\[#([0-9]+)[^0-9]*\]`)

// linkOnlySave keeps stored recipient links that the in-memory email lacks.
var linkOnlySave = models.SaveOptions{SkipLinkMultipleRemove: true, SkipLinkMultipleUpdate: true}

// CorrelatorStore is the slice of the entity store the correlator uses.
type CorrelatorStore interface {
	GetCase(ctx context.Context, id string) (*models.Case, error)
	FindCaseByNumber(ctx context.Context, number int64) (*models.Case, error)
	SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) error
}

// NotificationSink records that an email arrived on a parent record.
type NotificationSink interface {
	NotifyReceived(ctx context.Context, parent models.ParentLink, email *models.Email, isNewCase bool) error
}

// Correlator resolves an inbound email to an existing case.
type Correlator struct {
	store    CorrelatorStore
	notifier NotificationSink
}

// NewCorrelator builds a correlator.
func NewCorrelator(store CorrelatorStore, notifier NotificationSink) *Correlator {
	return &Correlator{store: store, notifier: notifier}
}

// Correlate returns the case the email belongs to, or nil. An explicit case
// parent that no longer exists yields nil without trying the subject tag.
func (c *Correlator) Correlate(ctx context.Context, email *models.Email) (*models.Case, error) {
	if email == nil {
		return nil, nil
	}
	if email.ParentIs(models.EntityCase) {
		found, err := c.store.GetCase(ctx, email.Parent.ID)
		if repository.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("correlate: parent case %s: %w", email.Parent.ID, err)
		}
		return found, c.link(ctx, found, email)
	}

	number, ok := SubjectCaseNumber(email.Subject)
	if !ok {
		return nil, nil
	}
	found, err := c.store.FindCaseByNumber(ctx, number)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("correlate: case number %d: %w", number, err)
	}
	email.SetParent(models.EntityCase, found.ID)
	return found, c.link(ctx, found, email)
}

// link copies the case assignee and teams onto the email and records the arrival.
func (c *Correlator) link(ctx context.Context, found *models.Case, email *models.Email) error {
	email.AddUserIDs(found.AssignedUserID)
	email.AddTeamIDs(found.TeamIDs...)
	if err := c.store.SaveEmail(ctx, email, linkOnlySave); err != nil {
		return fmt.Errorf("correlate: save email %s: %w", email.ID, err)
	}
	if email.AlreadyFetched || c.notifier == nil {
		return nil
	}
	if err := c.notifier.NotifyReceived(ctx, models.ParentLink{Type: models.EntityCase, ID: found.ID}, email, false); err != nil {
		return fmt.Errorf("correlate: notify: %w", err)
	}
	return nil
}

// SubjectCaseNumber extracts the first "[#<number>]" tag from a subject.
func SubjectCaseNumber(subject string) (int64, bool) {
	m := subjectTagPattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
