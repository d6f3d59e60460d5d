package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

type envelope struct {
	MessageID   string
	FromAddress string
	FromName    string
	ReplyTo     string
	To          []string
	Subject     string
	Date        time.Time
	InReplyTo   string
	References  []string
	Body        string
	IsHTML      bool
	Attachments []attachmentPart
}

type attachmentPart struct {
	filename    string
	contentType string
	data        []byte
}

type bodyCandidate struct {
	body     string
	mimeType string
}

var (
	messageIDPattern = regexp.MustCompile(`<([^<>]+)>`)
	wordDecoder      = &mime.WordDecoder{}
)

func (im *Importer) parse(raw []byte) envelope {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		im.logf("importer: structured parse failed: %v", err)
		return im.legacyEnvelope(raw)
	}
	var env envelope
	h := &reader.Header
	if subject, err := h.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = decodeHeader(h.Get("Subject"))
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		env.FromAddress = strings.TrimSpace(from[0].Address)
		env.FromName = strings.TrimSpace(from[0].Name)
	} else {
		env.FromAddress, env.FromName = parseAddress(h.Get("From"))
	}
	if replyTo, err := h.AddressList("Reply-To"); err == nil && len(replyTo) > 0 {
		env.ReplyTo = strings.TrimSpace(replyTo[0].Address)
	}
	for _, key := range []string{"To", "Cc"} {
		list, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range list {
			env.To = append(env.To, strings.TrimSpace(addr.Address))
		}
	}
	if date, err := h.Date(); err == nil {
		env.Date = date
	}
	env.MessageID = normalizeMessageID(h.Get("Message-Id"))
	env.InReplyTo = normalizeMessageID(firstMessageID(h.Get("In-Reply-To")))
	env.References = uniqueMessageIDs(h.Values("References")...)

	plain, html, attachments := im.readBodyParts(reader)
	env.Attachments = attachments
	switch {
	case plain != nil:
		env.Body = plain.body
	case html != nil:
		env.Body = html.body
		env.IsHTML = true
	default:
		legacy := im.legacyEnvelope(raw)
		env.Body = legacy.Body
	}
	return env
}

func (im *Importer) legacyEnvelope(raw []byte) envelope {
	var env envelope
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		im.logf("importer: parse message failed: %v", err)
		env.Body = im.truncate(raw)
		return env
	}
	env.Subject = decodeHeader(msg.Header.Get("Subject"))
	env.FromAddress, env.FromName = parseAddress(msg.Header.Get("From"))
	env.MessageID = normalizeMessageID(msg.Header.Get("Message-Id"))
	env.InReplyTo = normalizeMessageID(firstMessageID(msg.Header.Get("In-Reply-To")))
	env.References = uniqueMessageIDs(msg.Header.Get("References"))
	if date, err := msg.Header.Date(); err == nil {
		env.Date = date
	}
	body, err := io.ReadAll(io.LimitReader(msg.Body, im.bodyLimit()))
	if err != nil {
		im.logf("importer: read body failed: %v", err)
		env.Body = im.truncate(raw)
		return env
	}
	env.Body = string(body)
	return env
}

func (im *Importer) readBodyParts(reader *gomail.Reader) (plain, html *bodyCandidate, attachments []attachmentPart) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			im.logf("importer: read part failed: %v", err)
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mimeType, _, err := header.ContentType()
			if err != nil || mimeType == "" {
				mimeType = "text/plain"
			}
			mimeType = strings.ToLower(mimeType)
			data, err := io.ReadAll(io.LimitReader(part.Body, im.bodyLimit()))
			if err != nil {
				im.logf("importer: read part body failed: %v", err)
				continue
			}
			if len(data) == 0 {
				continue
			}
			candidate := &bodyCandidate{body: string(data), mimeType: mimeType}
			switch {
			case strings.HasPrefix(mimeType, "text/html"):
				if html == nil {
					html = candidate
				}
			case strings.HasPrefix(mimeType, "text/"):
				if plain == nil {
					plain = candidate
				}
			}
		case *gomail.AttachmentHeader:
			if att := im.extractAttachment(part, header); att != nil {
				attachments = append(attachments, *att)
			}
		}
	}
	return plain, html, attachments
}

func (im *Importer) extractAttachment(part *gomail.Part, header *gomail.AttachmentHeader) *attachmentPart {
	filename, err := header.Filename()
	if err != nil || strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("attachment-%d.bin", im.now().UnixNano())
	}
	mimeType, _, err := header.ContentType()
	if err != nil || strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	data, err := io.ReadAll(io.LimitReader(part.Body, im.attachmentLimitBytes()))
	if err != nil {
		im.logf("importer: read attachment %s failed: %v", filename, err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return &attachmentPart{filename: filename, contentType: strings.ToLower(mimeType), data: data}
}

func (im *Importer) truncate(raw []byte) string {
	if limit := im.bodyLimit(); int64(len(raw)) > limit {
		raw = raw[:limit]
	}
	return string(raw)
}

func decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func parseAddress(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	parser := stdmail.AddressParser{WordDecoder: wordDecoder}
	if addr, err := parser.Parse(value); err == nil {
		return strings.TrimSpace(addr.Address), strings.TrimSpace(addr.Name)
	}
	return value, ""
}

func firstMessageID(raw string) string {
	if ids := parseMessageIDs(raw); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func uniqueMessageIDs(values ...string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, raw := range values {
		for _, candidate := range parseMessageIDs(raw) {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			ids = append(ids, candidate)
		}
	}
	return ids
}

func parseMessageIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	matches := messageIDPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		if id := normalizeMessageID(raw); id != "" {
			return []string{id}
		}
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		if id := normalizeMessageID(match[1]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// normalizeMessageID returns the id in its bracketed "<local@domain>" form.
func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "<>\"")
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return "<" + value + ">"
}
