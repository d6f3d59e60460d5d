package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// envelope is what a mailbox listing knows about a message before its body
// is downloaded.
type envelope struct {
	uid      string
	num      uint32
	size     int64
	received time.Time
	meta     map[string]string
}

// session is one authenticated connection to a mailbox.
type session interface {
	list(ctx context.Context) ([]envelope, error)
	retrieve(ctx context.Context, env envelope) ([]byte, error)
	// ack settles handled messages: delete them or mark them read.
	ack(ctx context.Context, handled []envelope) error
	close() error
}

// drain walks a listed mailbox and feeds each message to the handler.
//
// Handler failures are collected and the message is left unacknowledged so
// the next poll sees it again. A retrieve failure ends the run because the
// connection state is no longer trustworthy. Messages handled before the
// failure are still acknowledged.
func (s settings) drain(ctx context.Context, protocol string, account models.InboundAccount, sess session, handler Handler) error {
	envs, err := sess.list(ctx)
	if err != nil {
		return fmt.Errorf("%s list: %w", protocol, err)
	}
	if s.maxMessages > 0 && len(envs) > s.maxMessages {
		s.logger.Printf("%s: account %s has %d messages, taking %d this run", protocol, account.ID, len(envs), s.maxMessages)
		envs = envs[:s.maxMessages]
	}

	var (
		handled []envelope
		errs    []error
	)
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if s.tooLarge(env.size) {
			s.logger.Printf("%s: account %s skipping message %s: %d bytes exceeds limit %d", protocol, account.ID, env.uid, env.size, s.maxMessageBytes)
			continue
		}

		raw, err := sess.retrieve(ctx, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s retrieve %s: %w", protocol, env.uid, err))
			break
		}
		if s.tooLarge(int64(len(raw))) {
			s.logger.Printf("%s: account %s skipping message %s: %d bytes exceeds limit %d", protocol, account.ID, env.uid, len(raw), s.maxMessageBytes)
			continue
		}

		msg := s.message(protocol, account, env, raw)
		if err := handler.Handle(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s message %s: %w", protocol, env.uid, err))
			continue
		}
		handled = append(handled, env)
	}

	if len(handled) > 0 {
		if err := sess.ack(ctx, handled); err != nil {
			errs = append(errs, fmt.Errorf("%s ack: %w", protocol, err))
		}
	}
	return errors.Join(errs...)
}

func (s settings) tooLarge(n int64) bool {
	return s.maxMessageBytes > 0 && n > s.maxMessageBytes
}

func (s settings) message(protocol string, account models.InboundAccount, env envelope, raw []byte) *FetchedMessage {
	received := env.received
	if received.IsZero() {
		received = s.now()
	}
	meta := map[string]string{"account": account.Name}
	for k, v := range env.meta {
		meta[k] = v
	}
	msg := &FetchedMessage{
		Connector:  protocol,
		UID:        env.uid,
		RemoteID:   remoteID(account, env.uid),
		ReceivedAt: received,
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
		Metadata:   meta,
	}
	msg.WithAccount(account)
	return msg
}

func (s settings) closeSession(protocol string, sess session) {
	if err := sess.close(); err != nil {
		s.logger.Printf("%s: close: %v", protocol, err)
	}
}

// remoteID is stable per mailbox and message, so dedupe survives restarts.
func remoteID(account models.InboundAccount, uid string) string {
	mailbox := account.Host
	if account.Username != "" {
		mailbox = account.Username + "@" + account.Host
	}
	return fmt.Sprintf("%s/%s:%s", account.ID, mailbox, uid)
}

func checkCredentials(protocol string, account models.InboundAccount) error {
	kind, ok := kindOf(account.Type)
	if !ok || kind.protocol != protocol {
		return fmt.Errorf("account %s: type %q not supported by %s connector", account.ID, account.Type, protocol)
	}
	switch {
	case account.Username == "":
		return fmt.Errorf("%s account %s missing username", protocol, account.ID)
	case account.Password == "":
		return fmt.Errorf("%s account %s missing password", protocol, account.ID)
	}
	return nil
}
