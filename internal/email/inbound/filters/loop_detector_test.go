package filters

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

func runDetector(t *testing.T, raw string) *MessageContext {
	t.Helper()
	msg := &connector.FetchedMessage{Raw: []byte(raw), RemoteID: "acc/1"}
	msg.WithAccount(models.InboundAccount{ID: "acc"})
	mc := &MessageContext{Account: msg.AccountSnapshot(), Message: msg}
	d := NewLoopDetector(WithLoopDetectorLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, d.Apply(context.Background(), mc))
	return mc
}

func TestLoopDetectorFlagsAutomatedMessages(t *testing.T) {
	cases := map[string]string{
		"auto-submitted":  "Auto-Submitted: auto-replied\r\nFrom: a@example.com\r\n\r\nbody",
		"x-autoreply":     "X-Autoreply: yes\r\nFrom: a@example.com\r\n\r\nbody",
		"x-autorespond":   "X-Autorespond: 1\r\nFrom: a@example.com\r\n\r\nbody",
		"precedence bulk": "Precedence: Bulk\r\nFrom: a@example.com\r\n\r\nbody",
		"precedence auto": "Precedence: auto_reply\r\nFrom: a@example.com\r\n\r\nbody",
		"suppress all":    "X-Auto-Response-Suppress: DR, All\r\nFrom: a@example.com\r\n\r\nbody",
		"suppress reply":  "X-Auto-Response-Suppress: AutoReply\r\nFrom: a@example.com\r\n\r\nbody",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			mc := runDetector(t, raw)
			require.True(t, mc.Flag(AnnotationAutoReply))
			require.True(t, mc.Flag(AnnotationSkipAutoReply))
		})
	}
}

func TestLoopDetectorSkipsReplyForBounceSenders(t *testing.T) {
	for _, raw := range []string{
		"From: Mail Delivery <MAILER-DAEMON@example.com>\r\n\r\nbody",
		"From: noreply@example.com\r\n\r\nbody",
		"Return-Path: <>\r\nFrom: someone@example.com\r\n\r\nbody",
	} {
		mc := runDetector(t, raw)
		if mc.Flag(AnnotationAutoReply) {
			t.Fatalf("bounce sender should not be flagged as auto-reply: %q", raw)
		}
		if !mc.Flag(AnnotationSkipAutoReply) {
			t.Fatalf("expected skip auto-reply for %q", raw)
		}
	}
}

func TestLoopDetectorLeavesHumanMailAlone(t *testing.T) {
	mc := runDetector(t, "From: Jane <jane@example.com>\r\nAuto-Submitted: no\r\nPrecedence: normal\r\nSubject: help\r\n\r\nbody")
	require.Empty(t, mc.Annotations)
}

func TestLoopDetectorIgnoresEmptyMessage(t *testing.T) {
	d := NewLoopDetector()
	require.NoError(t, d.Apply(context.Background(), nil))
	require.NoError(t, d.Apply(context.Background(), &MessageContext{Message: &connector.FetchedMessage{}}))
}

type stubFilter struct {
	id    string
	err   error
	calls *[]string
}

func (s stubFilter) ID() string { return s.id }

func (s stubFilter) Apply(context.Context, *MessageContext) error {
	*s.calls = append(*s.calls, s.id)
	return s.err
}

func TestChainStopsOnFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	chain := NewChain(
		stubFilter{id: "a", calls: &calls},
		stubFilter{id: "b", err: boom, calls: &calls},
		stubFilter{id: "c", calls: &calls},
	)
	err := chain.Run(context.Background(), &MessageContext{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a", "b"}, calls)
}
