package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// SMTPTransport submits messages to an SMTP server. Security "SSL" dials
// implicit TLS, "TLS" upgrades with STARTTLS, anything else is plain.
type SMTPTransport struct {
	settings  models.SMTPSettings
	tlsConfig *tls.Config
}

func NewSMTPTransport(settings models.SMTPSettings) *SMTPTransport {
	return &SMTPTransport{
		settings:  settings,
		tlsConfig: &tls.Config{ServerName: settings.Host, MinVersion: tls.VersionTLS12},
	}
}

// WithTLSConfig replaces the TLS client configuration.
func (t *SMTPTransport) WithTLSConfig(cfg *tls.Config) *SMTPTransport {
	if cfg != nil {
		t.tlsConfig = cfg
	}
	return t
}

func (t *SMTPTransport) addr() string {
	port := t.settings.Port
	if port == 0 {
		switch strings.ToUpper(t.settings.Security) {
		case "SSL":
			port = 465
		case "TLS":
			port = 587
		default:
			port = 25
		}
	}
	return net.JoinHostPort(t.settings.Host, strconv.Itoa(port))
}

func (t *SMTPTransport) dial() (*smtp.Client, error) {
	addr := t.addr()
	switch strings.ToUpper(t.settings.Security) {
	case "SSL":
		c, err := smtp.DialTLS(addr, t.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect via SMTPS: %w", err)
		}
		return c, nil
	case "TLS":
		c, err := smtp.DialStartTLS(addr, t.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect with STARTTLS: %w", err)
		}
		return c, nil
	default:
		c, err := smtp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		return c, nil
	}
}

func (t *SMTPTransport) authenticate(c *smtp.Client) error {
	if !t.settings.Auth || t.settings.Username == "" {
		return nil
	}
	var auth sasl.Client
	switch strings.ToLower(strings.TrimSpace(t.settings.AuthMechanism)) {
	case "login":
		auth = sasl.NewLoginClient(t.settings.Username, t.settings.Password)
	default:
		auth = sasl.NewPlainClient("", t.settings.Username, t.settings.Password)
	}
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	return nil
}

func (t *SMTPTransport) Send(ctx context.Context, env Envelope) error {
	if t.settings.Host == "" {
		return errors.New("smtp: no host configured")
	}
	if len(env.To) == 0 {
		return errors.New("smtp: no recipients specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := t.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := t.authenticate(c); err != nil {
		return err
	}
	if err := c.Mail(env.From, nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range env.To {
		if err := c.Rcpt(to, nil); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to initiate data transfer: %w", err)
	}
	if _, err := bytes.NewReader(env.Raw).WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data transfer: %w", err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("failed to quit SMTP session: %w", err)
	}
	return nil
}
