package models

import (
	"fmt"
	"strings"
)

// DistributionMode selects how a newly created case is assigned.
type DistributionMode int

const (
	DistributionNone DistributionMode = iota
	DistributionDirect
	DistributionRoundRobin
	DistributionLeastBusy
)

var distributionNames = map[DistributionMode]string{
	DistributionNone:       "",
	DistributionDirect:     "Direct-Assignment",
	DistributionRoundRobin: "Round-Robin",
	DistributionLeastBusy:  "Least-Busy",
}

// String returns the configuration spelling of the mode.
func (m DistributionMode) String() string {
	if name, ok := distributionNames[m]; ok {
		return name
	}
	return fmt.Sprintf("DistributionMode(%d)", int(m))
}

// ParseDistributionMode accepts the configured spelling of a mode. Matching is
// case-insensitive and ignores separators, so "round_robin" and "Round-Robin" agree.
func ParseDistributionMode(value string) (DistributionMode, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch key {
	case "", "none":
		return DistributionNone, nil
	case "direct", "directassignment":
		return DistributionDirect, nil
	case "roundrobin":
		return DistributionRoundRobin, nil
	case "leastbusy":
		return DistributionLeastBusy, nil
	default:
		return DistributionNone, fmt.Errorf("unknown case distribution %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m DistributionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *DistributionMode) UnmarshalText(text []byte) error {
	parsed, err := ParseDistributionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SMTPSettings are the per-account outbound overrides. Password is stored encrypted.
type SMTPSettings struct {
	Host          string `json:"host,omitempty" yaml:"host" db:"smtp_host"`
	Port          int    `json:"port,omitempty" yaml:"port" db:"smtp_port"`
	Auth          bool   `json:"auth" yaml:"auth" db:"smtp_auth"`
	AuthMechanism string `json:"auth_mechanism,omitempty" yaml:"auth_mechanism" db:"smtp_auth_mechanism"`
	Security      string `json:"security,omitempty" yaml:"security" db:"smtp_security"` // "", SSL, TLS
	Username      string `json:"username,omitempty" yaml:"username" db:"smtp_username"`
	Password      string `json:"-" yaml:"password" db:"smtp_password"`
}

// InboundAccount is a shared mailbox processed by the inbound pipeline.
type InboundAccount struct {
	ID           string `json:"id" yaml:"id" db:"id"`
	Name         string `json:"name" yaml:"name" db:"name"`
	EmailAddress string `json:"email_address" yaml:"email_address" db:"email_address"`
	Active       bool   `json:"active" yaml:"active" db:"active"`

	// Mailbox access.
	Type     string `json:"type" yaml:"type" db:"type"` // imap, imaps, pop3, pop3s
	Host     string `json:"host" yaml:"host" db:"host"`
	Port     int    `json:"port,omitempty" yaml:"port" db:"port"`
	Username string `json:"username" yaml:"username" db:"username"`
	Password string `json:"-" yaml:"password" db:"password"`
	Folder   string `json:"folder,omitempty" yaml:"folder" db:"folder"`

	// Case workflow.
	CreateCase         bool             `json:"create_case" yaml:"create_case" db:"create_case"`
	CaseDistribution   DistributionMode `json:"case_distribution" yaml:"case_distribution" db:"case_distribution"`
	TeamID             string           `json:"team_id,omitempty" yaml:"team_id" db:"team_id"`
	AssignToUserID     string           `json:"assign_to_user_id,omitempty" yaml:"assign_to_user_id" db:"assign_to_user_id"`
	TargetUserPosition string           `json:"target_user_position,omitempty" yaml:"target_user_position" db:"target_user_position"`
	AssignedUserID     string           `json:"assigned_user_id,omitempty" yaml:"assigned_user_id" db:"assigned_user_id"`

	// Auto-reply.
	Reply                bool   `json:"reply" yaml:"reply" db:"reply"`
	ReplyEmailTemplateID string `json:"reply_email_template_id,omitempty" yaml:"reply_email_template_id" db:"reply_email_template_id"`
	FromName             string `json:"from_name,omitempty" yaml:"from_name" db:"from_name"`
	ReplyFromAddress     string `json:"reply_from_address,omitempty" yaml:"reply_from_address" db:"reply_from_address"`
	ReplyFromName        string `json:"reply_from_name,omitempty" yaml:"reply_from_name" db:"reply_from_name"`
	ReplyToAddress       string `json:"reply_to_address,omitempty" yaml:"reply_to_address" db:"reply_to_address"`

	SMTP SMTPSettings `json:"smtp" yaml:"smtp"`
}

// CanSend reports whether the account carries its own outbound transport.
func (a *InboundAccount) CanSend() bool {
	return a != nil && strings.TrimSpace(a.SMTP.Host) != ""
}
