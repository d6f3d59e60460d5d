package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

var pop3Account = models.InboundAccount{
	ID: "support", Name: "Support", Type: "pop3s", Host: "mail.acme.test", Port: 995,
	Username: "support", Password: "secret",
}

func newTestPOP3(conn *fakePOP3Conn, opts ...Option) *POP3Fetcher {
	return withPOP3Dialer(NewPOP3Fetcher(opts...), func(models.InboundAccount) (pop3Connection, error) {
		return conn, nil
	})
}

func threeMessageDrop() *fakePOP3Conn {
	return &fakePOP3Conn{
		uidl: []pop3.MessageID{
			{ID: 1, UID: "a1", Size: 10},
			{ID: 2, UID: "b2", Size: 20},
			{ID: 3, UID: "", Size: 30},
		},
		raw: map[int][]byte{1: []byte("one"), 2: []byte("two"), 3: []byte("three")},
	}
}

func TestPOP3FetchHandsEveryMessageAndDeletes(t *testing.T) {
	conn := threeMessageDrop()
	stamp := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	h := &recordingHandler{}

	err := newTestPOP3(conn, WithDeleteAfterFetch(true), WithClock(func() time.Time { return stamp })).
		Fetch(context.Background(), pop3Account, h)
	require.NoError(t, err)

	require.Equal(t, []string{"a1", "b2", "3"}, h.uids())
	assert.Equal(t, []int{1, 2, 3}, conn.deleted)
	assert.Equal(t, 1, conn.quitCalls)

	first := h.messages[0]
	assert.Equal(t, "pop3", first.Connector)
	assert.Equal(t, "support", first.AccountID)
	assert.Equal(t, "support/support@mail.acme.test:a1", first.RemoteID)
	assert.Equal(t, stamp, first.ReceivedAt)
	assert.Equal(t, []byte("one"), first.Raw)
	assert.Equal(t, int64(3), first.SizeBytes)
	assert.Equal(t, "1", first.Metadata["pop3_id"])
	assert.Equal(t, "10", first.Metadata["reported_size"])
	assert.Equal(t, "Support", first.Metadata["account"])
	assert.Equal(t, "pop3s", first.AccountSnapshot().Type)
}

func TestPOP3FetchKeepsMessagesWithoutDelete(t *testing.T) {
	conn := threeMessageDrop()
	h := &recordingHandler{}
	require.NoError(t, newTestPOP3(conn).Fetch(context.Background(), pop3Account, h))
	assert.Len(t, h.messages, 3)
	assert.Empty(t, conn.deleted)
	assert.Zero(t, conn.deleCalls)
}

func TestPOP3FetchLeavesFailedMessageInPlace(t *testing.T) {
	conn := threeMessageDrop()
	h := &recordingHandler{failUID: "b2"}

	err := newTestPOP3(conn, WithDeleteAfterFetch(true)).Fetch(context.Background(), pop3Account, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pop3 message b2")
	assert.Equal(t, []string{"a1", "3"}, h.uids(), "later messages still processed")
	assert.Equal(t, []int{1, 3}, conn.deleted)
}

func TestPOP3FetchStopsOnRetrieveError(t *testing.T) {
	conn := threeMessageDrop()
	conn.retrErr = map[int]error{2: errors.New("connection reset")}
	h := &recordingHandler{}

	err := newTestPOP3(conn, WithDeleteAfterFetch(true)).Fetch(context.Background(), pop3Account, h)
	require.ErrorContains(t, err, "pop3 retrieve b2")
	assert.Equal(t, []string{"a1"}, h.uids())
	assert.Equal(t, []int{1}, conn.deleted, "handled messages are still settled")
}

func TestPOP3FetchRespectsMessageCap(t *testing.T) {
	conn := threeMessageDrop()
	h := &recordingHandler{}
	require.NoError(t, newTestPOP3(conn, WithMaxMessages(2), WithDeleteAfterFetch(true)).
		Fetch(context.Background(), pop3Account, h))
	assert.Equal(t, []string{"a1", "b2"}, h.uids())
	assert.Equal(t, []int{1, 2}, conn.deleted)
}

func TestPOP3FetchSkipsOversizedMessages(t *testing.T) {
	conn := threeMessageDrop()
	h := &recordingHandler{}
	require.NoError(t, newTestPOP3(conn, WithMaxMessageBytes(15), WithDeleteAfterFetch(true)).
		Fetch(context.Background(), pop3Account, h))
	assert.Equal(t, []string{"a1"}, h.uids())
	assert.Equal(t, []int{1}, conn.deleted, "oversized messages stay on the server")
	assert.NotContains(t, conn.retrieved, 2)
}

func TestPOP3FetchHonoursCancellation(t *testing.T) {
	conn := threeMessageDrop()
	ctx, cancel := context.WithCancel(context.Background())
	h := &recordingHandler{onHandle: func(*FetchedMessage) { cancel() }}

	err := newTestPOP3(conn).Fetch(ctx, pop3Account, h)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.messages, 1)
}

func TestPOP3FetchSetupErrors(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		conn := &fakePOP3Conn{authErr: errors.New("bad creds")}
		err := newTestPOP3(conn).Fetch(context.Background(), pop3Account, &recordingHandler{})
		require.ErrorContains(t, err, "pop3 auth")
		assert.Equal(t, 1, conn.quitCalls)
	})
	t.Run("uidl", func(t *testing.T) {
		conn := &fakePOP3Conn{uidlErr: errors.New("unsupported")}
		err := newTestPOP3(conn).Fetch(context.Background(), pop3Account, &recordingHandler{})
		require.ErrorContains(t, err, "pop3 list")
	})
	t.Run("connect", func(t *testing.T) {
		f := withPOP3Dialer(NewPOP3Fetcher(), func(models.InboundAccount) (pop3Connection, error) {
			return nil, errors.New("refused")
		})
		err := f.Fetch(context.Background(), pop3Account, &recordingHandler{})
		require.ErrorContains(t, err, "pop3 connect")
	})
	t.Run("no handler", func(t *testing.T) {
		require.Error(t, NewPOP3Fetcher().Fetch(context.Background(), pop3Account, nil))
	})
}

func TestPOP3FetchRejectsIncompleteAccounts(t *testing.T) {
	for name, acc := range map[string]models.InboundAccount{
		"no user":     {ID: "x", Type: "pop3", Password: "pw"},
		"no password": {ID: "x", Type: "pop3", Username: "u"},
		"imap type":   {ID: "x", Type: "imaps", Username: "u", Password: "pw"},
		"no host":     {ID: "x", Type: "pop3", Username: "u", Password: "pw"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, NewPOP3Fetcher().Fetch(context.Background(), acc, &recordingHandler{}))
		})
	}
}

type recordingHandler struct {
	messages []*FetchedMessage
	failUID  string
	onHandle func(*FetchedMessage)
}

func (h *recordingHandler) Handle(_ context.Context, msg *FetchedMessage) error {
	if h.failUID == msg.UID {
		return fmt.Errorf("fail %s", msg.UID)
	}
	h.messages = append(h.messages, msg)
	if h.onHandle != nil {
		h.onHandle(msg)
	}
	return nil
}

func (h *recordingHandler) uids() []string {
	out := make([]string, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.UID
	}
	return out
}

type fakePOP3Conn struct {
	uidl      []pop3.MessageID
	raw       map[int][]byte
	retrieved []int
	deleted   []int
	deleCalls int
	quitCalls int

	authErr error
	uidlErr error
	retrErr map[int]error
	deleErr error
}

func (f *fakePOP3Conn) Auth(_, _ string) error { return f.authErr }

func (f *fakePOP3Conn) Quit() error {
	f.quitCalls++
	return nil
}

func (f *fakePOP3Conn) Uidl(_ int) ([]pop3.MessageID, error) {
	if f.uidlErr != nil {
		return nil, f.uidlErr
	}
	return append([]pop3.MessageID(nil), f.uidl...), nil
}

func (f *fakePOP3Conn) RetrRaw(id int) (*bytes.Buffer, error) {
	if err := f.retrErr[id]; err != nil {
		return nil, err
	}
	payload, ok := f.raw[id]
	if !ok {
		return nil, fmt.Errorf("no message %d", id)
	}
	f.retrieved = append(f.retrieved, id)
	return bytes.NewBuffer(append([]byte(nil), payload...)), nil
}

func (f *fakePOP3Conn) Dele(ids ...int) error {
	f.deleCalls++
	if f.deleErr != nil {
		return f.deleErr
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}
