package models

import "strings"

// Contact is a known customer person.
type Contact struct {
	ID             string   `json:"id" db:"id"`
	FirstName      string   `json:"first_name,omitempty" db:"first_name"`
	LastName       string   `json:"last_name,omitempty" db:"last_name"`
	Name           string   `json:"name" db:"name"`
	AccountID      string   `json:"account_id,omitempty" db:"account_id"`
	EmailAddresses []string `json:"email_addresses,omitempty" db:"-"`
}

// HasEmailAddress reports whether addr belongs to the contact, ignoring case.
func (c *Contact) HasEmailAddress(addr string) bool {
	return containsAddress(c.EmailAddresses, addr)
}

// Lead is a prospective customer not yet converted to a contact.
type Lead struct {
	ID             string   `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	EmailAddresses []string `json:"email_addresses,omitempty" db:"-"`
}

// HasEmailAddress reports whether addr belongs to the lead, ignoring case.
func (l *Lead) HasEmailAddress(addr string) bool {
	return containsAddress(l.EmailAddresses, addr)
}

func containsAddress(list []string, addr string) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	for _, candidate := range list {
		if NormalizeAddress(candidate) == addr {
			return true
		}
	}
	return false
}

// NormalizeAddress lower-cases and trims an email address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
