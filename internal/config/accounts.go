package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

var mailboxTypes = map[string]bool{
	"imap":  true,
	"imaps": true,
	"imap4": true,
	"pop3":  true,
	"pop3s": true,
}

type accountsFile struct {
	Accounts []models.InboundAccount `yaml:"accounts"`
}

// Registry is the read-only set of configured inbound accounts.
type Registry struct {
	accounts []models.InboundAccount
	byID     map[string]int
	warnings []string
}

// LoadAccounts reads and validates an accounts YAML file.
func LoadAccounts(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	reg, err := ParseAccounts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// ParseAccounts decodes an accounts document. Unknown keys are rejected.
func ParseAccounts(data []byte) (*Registry, error) {
	var doc accountsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return NewRegistry(doc.Accounts)
}

// NewRegistry validates accounts and indexes them by ID.
func NewRegistry(accounts []models.InboundAccount) (*Registry, error) {
	reg := &Registry{byID: make(map[string]int, len(accounts))}
	var problems []string
	for i, account := range accounts {
		account.ID = strings.TrimSpace(account.ID)
		account.Type = strings.ToLower(strings.TrimSpace(account.Type))
		label := account.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		errs, warns := checkAccount(account)
		for _, e := range errs {
			problems = append(problems, fmt.Sprintf("account %s: %s", label, e))
		}
		for _, w := range warns {
			reg.warnings = append(reg.warnings, fmt.Sprintf("account %s: %s", label, w))
		}
		if account.ID == "" {
			continue
		}
		if _, dup := reg.byID[account.ID]; dup {
			problems = append(problems, fmt.Sprintf("account %s: duplicate id", label))
			continue
		}
		reg.byID[account.ID] = len(reg.accounts)
		reg.accounts = append(reg.accounts, account)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid accounts: %s", strings.Join(problems, "; "))
	}
	return reg, nil
}

func checkAccount(a models.InboundAccount) (errs []string, warns []string) {
	if a.ID == "" {
		errs = append(errs, "id is required")
	}
	if a.Host != "" && !mailboxTypes[a.Type] {
		errs = append(errs, fmt.Sprintf("unsupported mailbox type %q", a.Type))
	}
	switch a.CaseDistribution {
	case models.DistributionDirect:
		if a.AssignToUserID == "" {
			errs = append(errs, "direct assignment needs assign_to_user_id")
		}
	case models.DistributionRoundRobin, models.DistributionLeastBusy:
		if a.TeamID == "" {
			errs = append(errs, fmt.Sprintf("%s distribution needs team_id", a.CaseDistribution))
		}
	}
	if a.CaseDistribution != models.DistributionNone && !a.CreateCase {
		warns = append(warns, "case_distribution is ignored without create_case")
	}
	if a.Reply && a.ReplyEmailTemplateID == "" {
		warns = append(warns, "reply is enabled without reply_email_template_id")
	}
	if a.Active && a.Host == "" {
		warns = append(warns, "no mailbox host; messages arrive only through the API")
	}
	return errs, warns
}

// Warnings lists non-fatal findings from validation.
func (r *Registry) Warnings() []string {
	return append([]string(nil), r.warnings...)
}

// Account returns the account with the given ID.
func (r *Registry) Account(id string) (models.InboundAccount, bool) {
	if r == nil {
		return models.InboundAccount{}, false
	}
	idx, ok := r.byID[id]
	if !ok {
		return models.InboundAccount{}, false
	}
	return r.accounts[idx], true
}

// All returns every account sorted by ID.
func (r *Registry) All() []models.InboundAccount {
	if r == nil {
		return nil
	}
	out := append([]models.InboundAccount(nil), r.accounts...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveAccounts returns the active accounts that have a mailbox to poll.
func (r *Registry) ActiveAccounts(ctx context.Context) ([]models.InboundAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.InboundAccount
	for _, account := range r.All() {
		if account.Active && account.Host != "" {
			out = append(out, account)
		}
	}
	return out, nil
}
