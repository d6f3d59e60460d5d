package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/knadh/go-pop3"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

// POP3Fetcher polls POP3 and POP3S mailboxes.
type POP3Fetcher struct {
	settings
	dial func(models.InboundAccount) (pop3Connection, error)
}

// NewPOP3Fetcher builds a POP3 connector.
func NewPOP3Fetcher(opts ...Option) *POP3Fetcher {
	f := &POP3Fetcher{settings: newSettings(opts)}
	f.dial = f.dialServer
	return f
}

// withPOP3Dialer replaces the network dial; tests hand back fake connections.
func withPOP3Dialer(f *POP3Fetcher, dial func(models.InboundAccount) (pop3Connection, error)) *POP3Fetcher {
	f.dial = dial
	return f
}

func (f *POP3Fetcher) Name() string { return "pop3" }

// Fetch logs in and drains the maildrop into handler.
func (f *POP3Fetcher) Fetch(ctx context.Context, account models.InboundAccount, handler Handler) error {
	if handler == nil {
		return errors.New("pop3 fetcher requires a handler")
	}
	if err := checkCredentials(f.Name(), account); err != nil {
		return err
	}
	conn, err := f.dial(account)
	if err != nil {
		return fmt.Errorf("pop3 connect: %w", err)
	}
	sess := &pop3Session{conn: conn, deleteAfterFetch: f.deleteAfterFetch}
	defer f.closeSession(f.Name(), sess)

	if err := conn.Auth(account.Username, account.Password); err != nil {
		return fmt.Errorf("pop3 auth: %w", err)
	}
	return f.drain(ctx, f.Name(), account, sess, handler)
}

func (f *POP3Fetcher) dialServer(account models.InboundAccount) (pop3Connection, error) {
	if account.Host == "" {
		return nil, fmt.Errorf("pop3 account %s missing host", account.ID)
	}
	kind, _ := kindOf(account.Type)
	port := account.Port
	if port == 0 {
		port = 110
		if kind.tls {
			port = 995
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  kind.tls,
	})
	return client.NewConn()
}

type pop3Session struct {
	conn             pop3Connection
	deleteAfterFetch bool
}

// POP3 has no server-side arrival date, so received stays zero and the
// fetcher clock fills it in.
func (s *pop3Session) list(context.Context) ([]envelope, error) {
	ids, err := s.conn.Uidl(0)
	if err != nil {
		return nil, err
	}
	envs := make([]envelope, 0, len(ids))
	for _, id := range ids {
		uid := id.UID
		if uid == "" {
			uid = strconv.Itoa(id.ID)
		}
		meta := map[string]string{"uidl": uid, "pop3_id": strconv.Itoa(id.ID)}
		if id.Size > 0 {
			meta["reported_size"] = strconv.Itoa(id.Size)
		}
		envs = append(envs, envelope{uid: uid, num: uint32(id.ID), size: int64(id.Size), meta: meta})
	}
	return envs, nil
}

func (s *pop3Session) retrieve(_ context.Context, env envelope) ([]byte, error) {
	buf, err := s.conn.RetrRaw(int(env.num))
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Deletions only take effect at QUIT, which close sends.
func (s *pop3Session) ack(_ context.Context, handled []envelope) error {
	if !s.deleteAfterFetch {
		return nil
	}
	ids := make([]int, len(handled))
	for i, env := range handled {
		ids[i] = int(env.num)
	}
	return s.conn.Dele(ids...)
}

func (s *pop3Session) close() error { return s.conn.Quit() }
