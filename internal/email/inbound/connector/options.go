package connector

import (
	"log"
	"strings"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// Option tunes a mailbox fetcher. The same options apply to every protocol.
type Option func(*settings)

type settings struct {
	deleteAfterFetch bool
	maxMessages      int
	maxMessageBytes  int64
	dialTimeout      time.Duration
	now              func() time.Time
	logger           *log.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		dialTimeout: defaultDialTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// WithDeleteAfterFetch removes processed messages from the mailbox. When
// disabled, IMAP marks them \Seen and POP3 leaves them for dedupe upstream.
func WithDeleteAfterFetch(enabled bool) Option {
	return func(s *settings) {
		s.deleteAfterFetch = enabled
	}
}

// WithMaxMessages caps how many messages one poll hands to the handler.
// The remainder is picked up on the next run. Zero means no cap.
func WithMaxMessages(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxMessages = n
		}
	}
}

// WithMaxMessageBytes skips messages larger than n bytes. Zero means no limit.
func WithMaxMessageBytes(n int64) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxMessageBytes = n
		}
	}
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		if timeout > 0 {
			s.dialTimeout = timeout
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp messages without a server date.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// mailboxKind describes one accepted spelling of an account type.
type mailboxKind struct {
	protocol string
	tls      bool
}

var mailboxKinds = map[string]mailboxKind{
	"pop3":      {protocol: "pop3"},
	"pop3s":     {protocol: "pop3", tls: true},
	"pop3_tls":  {protocol: "pop3", tls: true},
	"pop3s_tls": {protocol: "pop3", tls: true},
	"imap":      {protocol: "imap"},
	"imap4":     {protocol: "imap"},
	"imaps":     {protocol: "imap", tls: true},
	"imap_tls":  {protocol: "imap", tls: true},
	"imaps_tls": {protocol: "imap", tls: true},
	"imaptls":   {protocol: "imap", tls: true},
}

func kindOf(accountType string) (mailboxKind, bool) {
	k, ok := mailboxKinds[normalizeType(accountType)]
	return k, ok
}

// typesFor lists every account type spelling served by protocol.
func typesFor(protocol string) []string {
	var out []string
	for name, k := range mailboxKinds {
		if k.protocol == protocol {
			out = append(out, name)
		}
	}
	return out
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
