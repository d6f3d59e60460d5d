package models

// Team groups users that cases can be distributed to.
type Team struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// TeamMember is a user's membership in a team. Role is the position filter target.
type TeamMember struct {
	TeamID string `json:"team_id" db:"team_id"`
	UserID string `json:"user_id" db:"user_id"`
	Role   string `json:"role,omitempty" db:"role"`
}

// User is an agent account.
type User struct {
	ID           string `json:"id" db:"id"`
	UserName     string `json:"user_name" db:"user_name"`
	Name         string `json:"name" db:"name"`
	EmailAddress string `json:"email_address,omitempty" db:"email_address"`
	Active       bool   `json:"active" db:"active"`
	IsPortal     bool   `json:"is_portal" db:"is_portal"`
}

// Eligible reports whether the user may receive case assignments.
func (u *User) Eligible() bool {
	return u != nil && u.Active && !u.IsPortal
}
