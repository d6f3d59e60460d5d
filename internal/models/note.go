package models

import "time"

// EntityType names a record type that can be a parent of emails and notes.
type EntityType string

const (
	EntityCase          EntityType = "Case"
	EntityAccount       EntityType = "Account"
	EntityContact       EntityType = "Contact"
	EntityLead          EntityType = "Lead"
	EntityEmail         EntityType = "Email"
	EntityEmailTemplate EntityType = "EmailTemplate"
)

// ParentLink is a typed reference to another record.
type ParentLink struct {
	Type EntityType `json:"type" db:"parent_type"`
	ID   string     `json:"id" db:"parent_id"`
}

// NoteType classifies activity stream entries.
type NoteType string

const (
	NoteEmailReceived NoteType = "EmailReceived"
	NoteEmailSent     NoteType = "EmailSent"
)

// Note is an activity stream entry on a parent record.
type Note struct {
	ID        string         `json:"id" db:"id"`
	Type      NoteType       `json:"type" db:"type"`
	Parent    ParentLink     `json:"parent" db:"-"`
	EmailID   string         `json:"email_id,omitempty" db:"related_id"`
	Data      map[string]any `json:"data,omitempty" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// SaveOptions tune how link lists are persisted.
type SaveOptions struct {
	// SkipLinkMultipleRemove keeps stored link entries missing from the entity.
	SkipLinkMultipleRemove bool
	// SkipLinkMultipleUpdate leaves existing link entries untouched and only adds new ones.
	SkipLinkMultipleUpdate bool
}
