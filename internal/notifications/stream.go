// Package notifications records activity stream notes for received email and
// fans them out to the agents linked to the email.
package notifications

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// NoteStore persists stream notes.
type NoteStore interface {
	SaveNote(ctx context.Context, note *models.Note) error
}

// Stream is the NotificationSink used by the inbound pipeline.
type Stream struct {
	store  NoteStore
	hub    Hub
	logger *log.Logger
	now    func() time.Time
}

// Option customizes a Stream.
type Option func(*Stream)

// WithHub sets the fan-out hub (default in-memory).
func WithHub(h Hub) Option {
	return func(s *Stream) {
		if h != nil {
			s.hub = h
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Stream) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStream(store NoteStore, opts ...Option) *Stream {
	s := &Stream{
		store:  store,
		hub:    NewMemoryHub(),
		logger: log.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Hub exposes the fan-out hub for consumers.
func (s *Stream) Hub() Hub {
	return s.hub
}

// NotifyReceived stores an EmailReceived note on parent. Hub delivery is
// best effort and only logged on failure.
func (s *Stream) NotifyReceived(ctx context.Context, parent models.ParentLink, email *models.Email, isNewCase bool) error {
	if email == nil || parent.ID == "" {
		return nil
	}
	note := &models.Note{
		Type:      models.NoteEmailReceived,
		Parent:    parent,
		EmailID:   email.ID,
		CreatedAt: s.now(),
		Data: map[string]any{
			"emailName":   email.Subject,
			"fromAddress": email.FromAddress,
			"isNewCase":   isNewCase,
		},
	}
	if err := s.store.SaveNote(ctx, note); err != nil {
		return fmt.Errorf("save received note: %w", err)
	}

	recipients := models.UnionIDs(email.UserIDs, email.AssignedUserID)
	if len(recipients) == 0 {
		return nil
	}
	ev := Event{
		NoteID:     note.ID,
		ParentType: string(parent.Type),
		ParentID:   parent.ID,
		EmailID:    email.ID,
		Subject:    email.Subject,
		IsNewCase:  isNewCase,
		At:         note.CreatedAt,
	}
	if err := s.hub.Dispatch(ctx, recipients, ev); err != nil {
		s.logger.Printf("notifications: dispatch for %s %s failed: %v", parent.Type, parent.ID, err)
	}
	return nil
}
