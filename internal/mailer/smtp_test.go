package mailer

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

type sinkBackend struct {
	mu       sync.Mutex
	messages []sinkMessage
}

type sinkMessage struct {
	From string
	To   []string
	Data []byte
}

func (b *sinkBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &sinkSession{backend: b}, nil
}

type sinkSession struct {
	backend *sinkBackend
	from    string
	to      []string
}

func (s *sinkSession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *sinkSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *sinkSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, sinkMessage{From: s.from, To: s.to, Data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *sinkSession) Reset() {}

func (s *sinkSession) Logout() error { return nil }

func startSink(t *testing.T) (*sinkBackend, string, int) {
	t.Helper()
	backend := &sinkBackend{}
	server := smtp.NewServer(backend)
	server.Domain = "sink.test"
	server.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(l)
	}()
	t.Cleanup(func() { _ = server.Close() })

	host, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return backend, host, port
}

func TestSMTPTransportPlainDelivery(t *testing.T) {
	backend, host, port := startSink(t)
	transport := NewSMTPTransport(models.SMTPSettings{Host: host, Port: port})

	raw := []byte("Subject: hello\r\n\r\nbody\r\n")
	err := transport.Send(context.Background(), Envelope{
		From: "desk@example.com",
		To:   []string{"a@example.org", "b@example.org"},
		Raw:  raw,
	})
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.messages, 1)
	msg := backend.messages[0]
	assert.Equal(t, "desk@example.com", msg.From)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, msg.To)
	assert.True(t, strings.Contains(string(msg.Data), "Subject: hello"))
}

func TestSMTPTransportValidation(t *testing.T) {
	err := NewSMTPTransport(models.SMTPSettings{}).Send(context.Background(), Envelope{To: []string{"a@b.c"}})
	assert.Error(t, err)

	err = NewSMTPTransport(models.SMTPSettings{Host: "localhost"}).Send(context.Background(), Envelope{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewSMTPTransport(models.SMTPSettings{Host: "localhost"}).Send(ctx, Envelope{To: []string{"a@b.c"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPTransportDefaultPorts(t *testing.T) {
	assert.Equal(t, "mail.test:465", NewSMTPTransport(models.SMTPSettings{Host: "mail.test", Security: "SSL"}).addr())
	assert.Equal(t, "mail.test:587", NewSMTPTransport(models.SMTPSettings{Host: "mail.test", Security: "tls"}).addr())
	assert.Equal(t, "mail.test:25", NewSMTPTransport(models.SMTPSettings{Host: "mail.test"}).addr())
	assert.Equal(t, "mail.test:2525", NewSMTPTransport(models.SMTPSettings{Host: "mail.test", Port: 2525}).addr())
}
