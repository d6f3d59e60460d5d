package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

const accountsYAML = `
accounts:
  - id: support
    name: Support
    email_address: support@acme.test
    active: true
    type: IMAPS
    host: imap.acme.test
    port: 993
    username: support
    password: secret
    create_case: true
    case_distribution: round_robin
    team_id: t1
    reply: true
    reply_email_template_id: tpl
    smtp:
      host: smtp.acme.test
      port: 587
  - id: billing
    name: Billing
    active: false
    type: pop3
    host: pop.acme.test
  - id: api-only
    name: Web form
    active: true
    create_case: true
    case_distribution: Direct-Assignment
    assign_to_user_id: u1
`

func TestLoadAccounts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.yaml", accountsYAML)
	reg, err := LoadAccounts(path)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"api-only", "billing", "support"}, []string{all[0].ID, all[1].ID, all[2].ID})

	support, ok := reg.Account("support")
	require.True(t, ok)
	assert.Equal(t, "imaps", support.Type)
	assert.Equal(t, models.DistributionRoundRobin, support.CaseDistribution)
	assert.Equal(t, "smtp.acme.test", support.SMTP.Host)
	assert.True(t, support.CanSend())

	direct, ok := reg.Account("api-only")
	require.True(t, ok)
	assert.Equal(t, models.DistributionDirect, direct.CaseDistribution)

	_, ok = reg.Account("missing")
	assert.False(t, ok)

	active, err := reg.ActiveAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1, "inactive and host-less accounts are not polled")
	assert.Equal(t, "support", active[0].ID)

	assert.Contains(t, reg.Warnings(), "account api-only: no mailbox host; messages arrive only through the API")
}

func TestParseAccountsRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", "accounts:\n  - name: x\n", "id is required"},
		{"duplicate id", "accounts:\n  - id: a\n  - id: a\n", "duplicate id"},
		{"unknown mode", "accounts:\n  - id: a\n    case_distribution: lottery\n", "unknown case distribution"},
		{"round robin without team", "accounts:\n  - id: a\n    create_case: true\n    case_distribution: Round-Robin\n", "needs team_id"},
		{"least busy without team", "accounts:\n  - id: a\n    create_case: true\n    case_distribution: least-busy\n", "needs team_id"},
		{"direct without user", "accounts:\n  - id: a\n    create_case: true\n    case_distribution: direct\n", "assign_to_user_id"},
		{"bad mailbox type", "accounts:\n  - id: a\n    host: mx\n    type: exchange\n", "unsupported mailbox type"},
		{"unknown key", "accounts:\n  - id: a\n    poll_every: 5m\n", "poll_every"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAccounts([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseAccountsWarnings(t *testing.T) {
	reg, err := ParseAccounts([]byte("accounts:\n  - id: a\n    reply: true\n    case_distribution: direct\n    assign_to_user_id: u1\n"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"account a: reply is enabled without reply_email_template_id",
		"account a: case_distribution is ignored without create_case",
	}, reg.Warnings())
}

func TestParseAccountsEmpty(t *testing.T) {
	reg, err := ParseAccounts(nil)
	require.NoError(t, err)
	assert.Empty(t, reg.All())

	var nilReg *Registry
	assert.Nil(t, nilReg.All())
	_, ok := nilReg.Account("x")
	assert.False(t, ok)
}

func TestActiveAccountsHonoursContext(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reg.ActiveAccounts(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadAccountsMissingFile(t *testing.T) {
	_, err := LoadAccounts(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read accounts file")
}
