package models

import "time"

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusNew       CaseStatus = "New"
	CaseStatusAssigned  CaseStatus = "Assigned"
	CaseStatusPending   CaseStatus = "Pending"
	CaseStatusClosed    CaseStatus = "Closed"
	CaseStatusRejected  CaseStatus = "Rejected"
	CaseStatusDuplicate CaseStatus = "Duplicate"
)

// OpenCaseStatuses count towards an agent's workload.
var OpenCaseStatuses = []CaseStatus{CaseStatusNew, CaseStatusAssigned, CaseStatusPending}

// IsOpen reports whether the status counts as open work.
func (s CaseStatus) IsOpen() bool {
	for _, open := range OpenCaseStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// Case is a support ticket.
type Case struct {
	ID               string     `json:"id" db:"id"`
	Number           int64      `json:"number" db:"number"`
	Name             string     `json:"name" db:"name"`
	Description      string     `json:"description,omitempty" db:"description"`
	Status           CaseStatus `json:"status" db:"status"`
	AssignedUserID   string     `json:"assigned_user_id,omitempty" db:"assigned_user_id"`
	TeamIDs          []string   `json:"team_ids,omitempty" db:"-"`
	AccountID        string     `json:"account_id,omitempty" db:"account_id"`
	ContactID        string     `json:"contact_id,omitempty" db:"contact_id"`
	LeadID           string     `json:"lead_id,omitempty" db:"lead_id"`
	AttachmentIDs    []string   `json:"attachment_ids,omitempty" db:"-"`
	InboundAccountID string     `json:"inbound_email_id,omitempty" db:"inbound_email_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ModifiedAt       time.Time  `json:"modified_at" db:"modified_at"`

	// Extra holds deployment-specific custom fields validated against the
	// configured custom field schema.
	Extra map[string]any `json:"extra,omitempty" db:"-"`
}

// NewCase returns a case with default field values.
func NewCase() *Case {
	return &Case{Status: CaseStatusNew}
}

// Assign sets the assignee and the matching status together.
func (c *Case) Assign(userID string) {
	if userID == "" {
		return
	}
	c.AssignedUserID = userID
	c.Status = CaseStatusAssigned
}

// IsAssigned reports whether the case has an assignee.
func (c *Case) IsAssigned() bool {
	return c != nil && c.AssignedUserID != ""
}

// Clone returns a deep copy.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.TeamIDs = append([]string(nil), c.TeamIDs...)
	out.AttachmentIDs = append([]string(nil), c.AttachmentIDs...)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
