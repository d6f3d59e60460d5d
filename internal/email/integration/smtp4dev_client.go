//go:build integration

// Package integration drives the pipeline against a live smtp4dev server.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMTP4DevClient talks to the smtp4dev v3 REST API.
type SMTP4DevClient struct {
	base   string
	client *http.Client
}

func NewSMTP4DevClient(base string, httpClient *http.Client) *SMTP4DevClient {
	if base == "" {
		base = "http://localhost:8025/api/v3"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMTP4DevClient{base: strings.TrimRight(base, "/"), client: httpClient}
}

type Mailbox struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Login string `json:"login"`
}

// Message is the summary smtp4dev lists for a captured message.
type Message struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	MailboxID string   `json:"mailboxId"`
}

func (c *SMTP4DevClient) CreateMailbox(ctx context.Context, login, password string) (*Mailbox, error) {
	req := map[string]string{"name": login, "login": login, "password": password}
	var box Mailbox
	if err := c.do(ctx, http.MethodPost, "/mailboxes", req, &box); err != nil {
		return nil, err
	}
	return &box, nil
}

func (c *SMTP4DevClient) DeleteMailbox(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/mailboxes/"+url.PathEscape(id), nil, nil)
}

func (c *SMTP4DevClient) DeleteAllMessages(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/messages", nil, nil)
}

func (c *SMTP4DevClient) ListMessages(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// WaitForSubject polls until a message whose subject contains needle shows up.
func (c *SMTP4DevClient) WaitForSubject(ctx context.Context, needle string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msgs, err := c.ListMessages(ctx)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			if strings.Contains(msgs[i].Subject, needle) {
				return &msgs[i], nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no message with subject containing %q after %s", needle, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
}

func (c *SMTP4DevClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("smtp4dev %s %s: %s (%s)", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
