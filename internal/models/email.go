package models

import (
	"strings"
	"time"
)

// EmailStatus tracks the delivery state of an email record.
type EmailStatus string

const (
	EmailStatusDraft    EmailStatus = "Draft"
	EmailStatusSending  EmailStatus = "Sending"
	EmailStatusSent     EmailStatus = "Sent"
	EmailStatusArchived EmailStatus = "Archived"
	EmailStatusFailed   EmailStatus = "Failed"
)

// Email is a fetched inbound message or an outbound draft.
type Email struct {
	ID               string      `json:"id" db:"id"`
	MessageID        string      `json:"message_id,omitempty" db:"message_id"`
	FromAddress      string      `json:"from_address" db:"from_address"`
	FromName         string      `json:"from_name,omitempty" db:"from_name"`
	ToAddresses      []string    `json:"to_addresses,omitempty" db:"-"`
	ReplyToAddress   string      `json:"reply_to_address,omitempty" db:"reply_to_address"`
	Subject          string      `json:"subject" db:"subject"`
	Body             string      `json:"body" db:"body"`
	IsHTML           bool        `json:"is_html" db:"is_html"`
	Status           EmailStatus `json:"status" db:"status"`
	InReplyTo        string      `json:"in_reply_to,omitempty" db:"in_reply_to"`
	References       []string    `json:"references,omitempty" db:"-"`
	Parent           *ParentLink `json:"parent,omitempty" db:"-"`
	UserIDs          []string    `json:"user_ids,omitempty" db:"-"`
	TeamIDs          []string    `json:"team_ids,omitempty" db:"-"`
	AssignedUserID   string      `json:"assigned_user_id,omitempty" db:"assigned_user_id"`
	AttachmentIDs    []string    `json:"attachment_ids,omitempty" db:"-"`
	AccountID        string      `json:"account_id,omitempty" db:"account_id"`
	InboundAccountID string      `json:"inbound_account_id,omitempty" db:"inbound_account_id"`
	CreatedByID      string      `json:"created_by_id,omitempty" db:"created_by_id"`
	DateSent         *time.Time  `json:"date_sent,omitempty" db:"date_sent"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`

	// Headers are extra headers written on outbound messages.
	Headers map[string]string `json:"headers,omitempty" db:"-"`

	// AlreadyFetched is set when the message was seen by a previous fetch cycle.
	AlreadyFetched bool `json:"-" db:"-"`
}

// AddUserIDs merges ids into the users linkage without duplicating entries.
func (e *Email) AddUserIDs(ids ...string) {
	e.UserIDs = UnionIDs(e.UserIDs, ids...)
}

// AddTeamIDs merges ids into the teams linkage without duplicating entries.
func (e *Email) AddTeamIDs(ids ...string) {
	e.TeamIDs = UnionIDs(e.TeamIDs, ids...)
}

// SetParent links the email to an entity.
func (e *Email) SetParent(entityType EntityType, id string) {
	e.Parent = &ParentLink{Type: entityType, ID: id}
}

// ParentIs reports whether the email is linked to the given entity type.
func (e *Email) ParentIs(entityType EntityType) bool {
	return e != nil && e.Parent != nil && e.Parent.Type == entityType && e.Parent.ID != ""
}

// Clone returns a deep copy.
func (e *Email) Clone() *Email {
	if e == nil {
		return nil
	}
	c := *e
	c.ToAddresses = append([]string(nil), e.ToAddresses...)
	c.References = append([]string(nil), e.References...)
	c.UserIDs = append([]string(nil), e.UserIDs...)
	c.TeamIDs = append([]string(nil), e.TeamIDs...)
	c.AttachmentIDs = append([]string(nil), e.AttachmentIDs...)
	if e.Parent != nil {
		p := *e.Parent
		c.Parent = &p
	}
	if e.DateSent != nil {
		t := *e.DateSent
		c.DateSent = &t
	}
	if e.Headers != nil {
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// EmailTemplate is a reply template rendered for auto-replies.
type EmailTemplate struct {
	ID            string   `json:"id" db:"id"`
	Name          string   `json:"name" db:"name"`
	Subject       string   `json:"subject" db:"subject"`
	Body          string   `json:"body" db:"body"`
	IsHTML        bool     `json:"is_html" db:"is_html"`
	AttachmentIDs []string `json:"attachment_ids,omitempty" db:"-"`
}

// UnionIDs appends values missing from base, preserving order. Empty ids are ignored.
func UnionIDs(base []string, values ...string) []string {
	seen := make(map[string]struct{}, len(base)+len(values))
	out := make([]string, 0, len(base)+len(values))
	for _, list := range [][]string{base, values} {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
