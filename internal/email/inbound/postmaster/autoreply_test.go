package postmaster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
	"github.com/gotrs-io/gotrs-caseflow/internal/mailer"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
)

func replyAccount() *models.InboundAccount {
	acc := caseAccount()
	acc.Reply = true
	acc.ReplyEmailTemplateID = "tpl"
	return acc
}

func sentReplies(h *harness) []*models.Email {
	var out []*models.Email
	for _, e := range h.store.Emails() {
		if e.CreatedByID == DefaultSystemUserID {
			out = append(out, e)
		}
	}
	return out
}

func TestNewCaseGetsAutoReply(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	email := h.inbound(t, &models.Email{
		MessageID: "<m1@example.com>",
		Subject:   "Printer broken",
		TeamIDs:   []string{"t1"},
	})

	require.NoError(t, h.dispatcher.Process(context.Background(), replyAccount(), email, Flags{}))

	cases := h.store.Cases()
	require.Len(t, cases, 1)
	envs := h.transport.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, []string{"jane.doe@example.com"}, envs[0].To)
	assert.Equal(t, "support@acme.test", envs[0].From)

	r, body := parseSent(t, envs[0])
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("[#%d] Re: Printer broken", cases[0].Number), subject)
	assert.Equal(t, "<m1@example.com>", r.Header.Get("In-Reply-To"))
	assert.Equal(t, "auto-replied", r.Header.Get("Auto-Submitted"))
	assert.Equal(t, "All", r.Header.Get("X-Auto-Response-Suppress"))
	assert.Equal(t, "auto_reply", r.Header.Get("Precedence"))
	assert.Contains(t, body, "Hello Jane Doe, we got your message.")

	replies := sentReplies(h)
	require.Len(t, replies, 1)
	reply := replies[0]
	assert.Equal(t, models.EmailStatusSent, reply.Status)
	assert.Equal(t, &models.ParentLink{Type: models.EntityCase, ID: cases[0].ID}, reply.Parent)
	assert.Equal(t, []string{"t1"}, reply.TeamIDs)
	assert.Equal(t, "<m1@example.com>", reply.InReplyTo)
	assert.True(t, reply.IsHTML)
	require.NotNil(t, reply.DateSent)
	assert.Equal(t, testNow, *reply.DateSent)
}

func TestAutoReplyUsesCaseContactName(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.store.PutContact(models.Contact{ID: "c1", Name: "Janet Contact", EmailAddresses: []string{"jane.doe@example.com"}})
	email := h.inbound(t, &models.Email{Subject: "hi", FromName: "Display Name"})

	require.NoError(t, h.dispatcher.Process(context.Background(), replyAccount(), email, Flags{}))

	envs := h.transport.envelopes()
	require.Len(t, envs, 1)
	_, body := parseSent(t, envs[0])
	assert.Contains(t, body, "Hello Janet Contact")
}

func TestAutoReplySynthesizesPersonName(t *testing.T) {
	tests := []struct {
		name     string
		from     string
		fromName string
		want     string
	}{
		{name: "display name", from: "x@example.com", fromName: "Dana Scully", want: "Hello Dana Scully"},
		{name: "dotted local part", from: "jane.doe@example.com", want: "Hello Jane Doe"},
		{name: "underscores", from: "fox_mulder@example.com", want: "Hello Fox Mulder"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{})
			email := &models.Email{ID: "e1", FromAddress: tc.from, FromName: tc.fromName, Subject: "hi"}

			res := h.guard.Send(context.Background(), replyAccount(), email, nil, nil)

			require.Equal(t, OutcomeSent, res.Outcome, "err: %v", res.Err)
			assert.Contains(t, res.Reply.Body, tc.want)
			assert.Equal(t, "Re: hi", res.Reply.Subject)
		})
	}
}

func TestAutoReplyRateLimit(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	account := replyAccount()
	account.CreateCase = false
	ctx := context.Background()

	for i := 0; i < DefaultAutoReplyLimit+1; i++ {
		email := h.inbound(t, &models.Email{Subject: fmt.Sprintf("note %d", i)})
		require.NoError(t, h.dispatcher.Process(ctx, account, email, Flags{}))
	}
	assert.Len(t, h.transport.envelopes(), DefaultAutoReplyLimit)
	assert.Contains(t, h.logs.String(), string(SkipRateLimited))

	other := h.inbound(t, &models.Email{Subject: "someone else", FromAddress: "bob@example.com"})
	require.NoError(t, h.dispatcher.Process(ctx, account, other, Flags{}))
	assert.Len(t, h.transport.envelopes(), DefaultAutoReplyLimit+1)
}

func TestAutoReplyLimitIgnoresOtherSenders(t *testing.T) {
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimit(1)}})
	ctx := context.Background()
	sentAt := testNow.Add(-10 * time.Minute)
	manual := &models.Email{
		ToAddresses: []string{"jane.doe@example.com"},
		Status:      models.EmailStatusSent,
		DateSent:    &sentAt,
		CreatedByID: "u1",
	}
	require.NoError(t, h.store.SaveEmail(ctx, manual, models.SaveOptions{}))

	res := h.guard.Send(ctx, replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeSent, res.Outcome)

	res = h.guard.Send(ctx, replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "again"}, nil, nil)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipRateLimited, res.Reason)
}

func TestAutoReplyFailureIsLoggedNotReturned(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.transport.err = errors.New("relay down")
	email := h.inbound(t, &models.Email{Subject: "urgent"})

	require.NoError(t, h.dispatcher.Process(context.Background(), replyAccount(), email, Flags{}))

	assert.Len(t, h.store.Cases(), 1)
	assert.Contains(t, h.logs.String(), "autoreply: auto-reply error:")
	assert.Contains(t, h.logs.String(), "relay down")
	replies := sentReplies(h)
	require.Len(t, replies, 1)
	assert.Equal(t, models.EmailStatusDraft, replies[0].Status)
}

func TestReplyOnlyAccount(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	account := &models.InboundAccount{
		ID:                   "info",
		Reply:                true,
		ReplyEmailTemplateID: "tpl-agent",
		AssignedUserID:       "u2",
	}
	ctx := context.Background()

	skippedMail := h.inbound(t, &models.Email{Subject: "bounce"})
	require.NoError(t, h.dispatcher.Process(ctx, account, skippedMail, Flags{SkipAutoReply: true}))
	assert.Empty(t, h.transport.envelopes())
	assert.Contains(t, h.logs.String(), "auto-reply suppressed")

	email := h.inbound(t, &models.Email{Subject: "question"})
	require.NoError(t, h.dispatcher.Process(ctx, account, email, Flags{}))

	assert.Empty(t, h.store.Cases())
	envs := h.transport.envelopes()
	require.Len(t, envs, 1)
	r, body := parseSent(t, envs[0])
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: question", subject)
	assert.Contains(t, body, "Bob will answer Jane Doe shortly.")
}

func TestAutoReplySkips(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	res := h.guard.Send(ctx, replyAccount(), &models.Email{FromAddress: "  ", Subject: "x"}, nil, nil)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipNoFromAddress, res.Reason)

	noTemplate := replyAccount()
	noTemplate.ReplyEmailTemplateID = ""
	res = h.guard.Send(ctx, noTemplate, &models.Email{FromAddress: "a@example.com"}, nil, nil)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipNoTemplate, res.Reason)

	missing := replyAccount()
	missing.ReplyEmailTemplateID = "nope"
	res = h.guard.Send(ctx, missing, &models.Email{FromAddress: "a@example.com"}, nil, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, repository.IsNotFound(res.Err))
	assert.Nil(t, res.Reply)
	assert.Empty(t, h.transport.envelopes())
}

func TestAutoReplySenderIdentity(t *testing.T) {
	tests := []struct {
		name        string
		configure   func(*models.InboundAccount)
		wantName    string
		wantAddress string
		wantReplyTo string
	}{
		{
			name:        "defaults",
			configure:   func(*models.InboundAccount) {},
			wantName:    "Acme Support",
			wantAddress: "support@acme.test",
		},
		{
			name:        "account from name",
			configure:   func(a *models.InboundAccount) { a.FromName = "Acme Help" },
			wantName:    "Acme Help",
			wantAddress: "support@acme.test",
		},
		{
			name: "reply overrides",
			configure: func(a *models.InboundAccount) {
				a.FromName = "Acme Help"
				a.ReplyFromName = "Acme Bot"
				a.ReplyFromAddress = "bot@acme.test"
				a.ReplyToAddress = "help@acme.test"
			},
			wantName:    "Acme Bot",
			wantAddress: "bot@acme.test",
			wantReplyTo: "help@acme.test",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{})
			account := replyAccount()
			tc.configure(account)

			res := h.guard.Send(context.Background(), account, &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
			require.Equal(t, OutcomeSent, res.Outcome, "err: %v", res.Err)

			envs := h.transport.envelopes()
			require.Len(t, envs, 1)
			assert.Equal(t, tc.wantAddress, envs[0].From)
			r, _ := parseSent(t, envs[0])
			from, err := r.Header.AddressList("From")
			require.NoError(t, err)
			require.Len(t, from, 1)
			assert.Equal(t, tc.wantName, from[0].Name)
			assert.Equal(t, tc.wantAddress, from[0].Address)
			if tc.wantReplyTo == "" {
				assert.Empty(t, r.Header.Get("Reply-To"))
			} else {
				replyTo, err := r.Header.AddressList("Reply-To")
				require.NoError(t, err)
				require.Len(t, replyTo, 1)
				assert.Equal(t, tc.wantReplyTo, replyTo[0].Address)
			}
		})
	}
}

func TestAutoReplyUsesAccountSMTP(t *testing.T) {
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	codec, err := crypt.NewCodec(key)
	require.NoError(t, err)
	secret, err := codec.Encrypt("hunter2")
	require.NoError(t, err)

	accountTransport := &recordingTransport{}
	var used models.SMTPSettings
	h := newHarness(t, harnessConfig{
		guardOpts: []GuardOption{WithSecrets(codec)},
		senderOpts: []mailer.SenderOption{mailer.WithSMTPFactory(func(s models.SMTPSettings) mailer.Transport {
			used = s
			return accountTransport
		})},
	})
	account := replyAccount()
	account.SMTP = models.SMTPSettings{Host: "smtp.acme.test", Port: 587, Auth: true, Username: "bot", Password: secret}

	res := h.guard.Send(context.Background(), account, &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	require.Equal(t, OutcomeSent, res.Outcome, "err: %v", res.Err)

	assert.Equal(t, "hunter2", used.Password)
	assert.Equal(t, "smtp.acme.test", used.Host)
	assert.Empty(t, h.transport.envelopes())
	assert.Len(t, accountTransport.envelopes(), 1)
}

func TestAutoReplyRejectsUndecryptableSMTPPassword(t *testing.T) {
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	codec, err := crypt.NewCodec(key)
	require.NoError(t, err)

	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithSecrets(codec)}})
	account := replyAccount()
	account.SMTP = models.SMTPSettings{Host: "smtp.acme.test", Password: "not-ciphertext"}

	res := h.guard.Send(context.Background(), account, &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Reply)
	assert.Equal(t, models.EmailStatusDraft, res.Reply.Status)
	assert.Empty(t, h.transport.envelopes())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "sent", OutcomeSent.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
