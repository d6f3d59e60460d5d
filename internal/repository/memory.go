package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/gotrs-caseflow/internal/casenumber"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// MemoryStore is an in-memory Store used by tests and the single-node CLI.
type MemoryStore struct {
	mu          sync.RWMutex
	emails      map[string]*models.Email
	cases       map[string]*models.Case
	teams       map[string]*models.Team
	members     map[string][]models.TeamMember
	users       map[string]*models.User
	contacts    map[string]*models.Contact
	leads       map[string]*models.Lead
	attachments map[string]*models.Attachment
	templates   map[string]*models.EmailTemplate
	notes       []models.Note
	numbers     *casenumber.Sequence
	now         func() time.Time
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryNumbers overrides the case number sequence.
func WithMemoryNumbers(seq *casenumber.Sequence) MemoryOption {
	return func(s *MemoryStore) {
		if seq != nil {
			s.numbers = seq
		}
	}
}

// WithMemoryClock overrides the clock used for timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		emails:      make(map[string]*models.Email),
		cases:       make(map[string]*models.Case),
		teams:       make(map[string]*models.Team),
		members:     make(map[string][]models.TeamMember),
		users:       make(map[string]*models.User),
		contacts:    make(map[string]*models.Contact),
		leads:       make(map[string]*models.Lead),
		attachments: make(map[string]*models.Attachment),
		templates:   make(map[string]*models.EmailTemplate),
		numbers:     casenumber.NewSequence(casenumber.NewMemoryStore(0)),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PutTeam seeds a team and its members.
func (s *MemoryStore) PutTeam(team models.Team, members ...models.TeamMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[team.ID] = &team
	for i := range members {
		members[i].TeamID = team.ID
	}
	s.members[team.ID] = append([]models.TeamMember(nil), members...)
}

// PutUser seeds a user.
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = &user
}

// PutContact seeds a contact.
func (s *MemoryStore) PutContact(contact models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.ID] = &contact
}

// PutLead seeds a lead.
func (s *MemoryStore) PutLead(lead models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = &lead
}

// PutEmailTemplate seeds a reply template.
func (s *MemoryStore) PutEmailTemplate(tpl models.EmailTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = &tpl
}

// DeleteAttachment removes a stored attachment.
func (s *MemoryStore) DeleteAttachment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attachments, id)
}

// Emails returns a snapshot of all stored emails.
func (s *MemoryStore) Emails() []*models.Email {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Email, 0, len(s.emails))
	for _, e := range s.emails {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cases returns a snapshot of all stored cases ordered by number.
func (s *MemoryStore) Cases() []*models.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *MemoryStore) GetEmail(_ context.Context, id string) (*models.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.emails[id]; ok {
		return e.Clone(), nil
	}
	return nil, fmt.Errorf("email %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) FindEmailByMessageID(_ context.Context, messageID string) (*models.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if messageID != "" {
		for _, e := range s.emails {
			if e.MessageID == messageID {
				return e.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("email with message id %q: %w", messageID, ErrNotFound)
}

func (s *MemoryStore) SaveEmail(_ context.Context, email *models.Email, opts models.SaveOptions) error {
	if email == nil {
		return fmt.Errorf("save email: nil email")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.emails[email.ID]; !known && email.MessageID != "" {
		for _, e := range s.emails {
			if e.MessageID == email.MessageID {
				return fmt.Errorf("save email: %s: %w", email.MessageID, ErrDuplicate)
			}
		}
	}
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = s.now()
	}
	stored := email.Clone()
	if prev, ok := s.emails[email.ID]; ok {
		stored.UserIDs = mergeLinks(prev.UserIDs, email.UserIDs, opts)
		stored.TeamIDs = mergeLinks(prev.TeamIDs, email.TeamIDs, opts)
	}
	s.emails[email.ID] = stored
	for _, id := range stored.AttachmentIDs {
		if att, ok := s.attachments[id]; ok {
			att.ParentType = models.EntityEmail
			att.ParentID = stored.ID
		}
	}
	return nil
}

func mergeLinks(prev, next []string, opts models.SaveOptions) []string {
	if opts.SkipLinkMultipleRemove {
		return models.UnionIDs(prev, next...)
	}
	return models.UnionIDs(nil, next...)
}

func (s *MemoryStore) CountSentEmails(_ context.Context, q SentEmailQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	to := models.NormalizeAddress(q.To)
	count := 0
	for _, e := range s.emails {
		if e.Status != models.EmailStatusSent || e.DateSent == nil || !e.DateSent.After(q.Since) {
			continue
		}
		if q.CreatedByID != "" && e.CreatedByID != q.CreatedByID {
			continue
		}
		for _, addr := range e.ToAddresses {
			if models.NormalizeAddress(addr) == to {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) GetCase(_ context.Context, id string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cases[id]; ok {
		return c.Clone(), nil
	}
	return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) FindCaseByNumber(_ context.Context, number int64) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.Number == number {
			return c.Clone(), nil
		}
	}
	return nil, fmt.Errorf("case number %d: %w", number, ErrNotFound)
}

func (s *MemoryStore) SaveCase(ctx context.Context, c *models.Case) error {
	if c == nil {
		return fmt.Errorf("save case: nil case")
	}
	if c.Number == 0 {
		n, err := s.numbers.Next(ctx)
		if err != nil {
			return fmt.Errorf("save case: number: %w", err)
		}
		c.Number = n
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.ModifiedAt = now
	s.cases[c.ID] = c.Clone()
	for _, id := range c.AttachmentIDs {
		if att, ok := s.attachments[id]; ok {
			att.ParentType = models.EntityCase
			att.ParentID = c.ID
		}
	}
	return nil
}

func (s *MemoryStore) CountOpenCases(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.cases {
		if c.AssignedUserID == userID && c.Status.IsOpen() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*models.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.teams[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) TeamMembers(_ context.Context, teamID string) ([]models.TeamMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TeamMember(nil), s.members[teamID]...), nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) GetContact(_ context.Context, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contacts[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) FindContactByEmail(_ context.Context, address string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedKeys(s.contacts) {
		if c := s.contacts[id]; c.HasEmailAddress(address) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", address, ErrNotFound)
}

func (s *MemoryStore) FindLeadByEmail(_ context.Context, address string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedKeys(s.leads) {
		if l := s.leads[id]; l.HasEmailAddress(address) {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("lead %s: %w", address, ErrNotFound)
}

func (s *MemoryStore) GetAttachment(_ context.Context, id string) (*models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.attachments[id]; ok {
		cp := *a
		cp.Contents = bytes.Clone(a.Contents)
		return &cp, nil
	}
	return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) SaveAttachment(_ context.Context, att *models.Attachment) error {
	if att == nil {
		return fmt.Errorf("save attachment: nil attachment")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.Size == 0 {
		att.Size = int64(len(att.Contents))
	}
	cp := *att
	cp.Contents = bytes.Clone(att.Contents)
	s.attachments[att.ID] = &cp
	return nil
}

func (s *MemoryStore) CopyAttachment(ctx context.Context, id string, parent *models.ParentLink) (*models.Attachment, error) {
	src, err := s.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := copyOf(src, parent)
	if err := s.SaveAttachment(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func copyOf(src *models.Attachment, parent *models.ParentLink) *models.Attachment {
	sourceID := src.SourceID
	if sourceID == "" {
		sourceID = src.ID
	}
	cp := &models.Attachment{
		ID:       uuid.NewString(),
		Name:     src.Name,
		Type:     src.Type,
		Size:     src.Size,
		Role:     src.Role,
		SourceID: sourceID,
		Contents: bytes.Clone(src.Contents),
	}
	if parent != nil {
		cp.ParentType = parent.Type
		cp.ParentID = parent.ID
	}
	return cp
}

func (s *MemoryStore) GetEmailTemplate(_ context.Context, id string) (*models.EmailTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[id]; ok {
		cp := *t
		cp.AttachmentIDs = append([]string(nil), t.AttachmentIDs...)
		return &cp, nil
	}
	return nil, fmt.Errorf("email template %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) SaveNote(_ context.Context, note *models.Note) error {
	if note == nil {
		return fmt.Errorf("save note: nil note")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = s.now()
	}
	s.notes = append(s.notes, *note)
	return nil
}

func (s *MemoryStore) ListNotes(_ context.Context, parent models.ParentLink) ([]models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Note
	for _, n := range s.notes {
		if n.Parent == parent {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *MemoryStore) ParentExists(_ context.Context, link models.ParentLink) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ok bool
	switch link.Type {
	case models.EntityCase:
		_, ok = s.cases[link.ID]
	case models.EntityContact:
		_, ok = s.contacts[link.ID]
	case models.EntityLead:
		_, ok = s.leads[link.ID]
	case models.EntityEmail:
		_, ok = s.emails[link.ID]
	}
	return ok, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
