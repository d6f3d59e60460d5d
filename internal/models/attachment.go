package models

// Attachment is a stored file linked to an email, case or template.
type Attachment struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Type       string     `json:"type" db:"type"`
	Size       int64      `json:"size" db:"size"`
	Role       string     `json:"role,omitempty" db:"role"`
	ParentType EntityType `json:"parent_type,omitempty" db:"parent_type"`
	ParentID   string     `json:"parent_id,omitempty" db:"parent_id"`
	SourceID   string     `json:"source_id,omitempty" db:"source_id"`
	Contents   []byte     `json:"-" db:"contents"`
}
