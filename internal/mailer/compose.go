package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

type composeInput struct {
	From        string
	FromName    string
	ReplyTo     string
	MessageID   string
	Date        time.Time
	Draft       *models.Email
	Headers     []Header
	Attachments []*models.Attachment
}

func compose(in composeInput) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Name: in.FromName, Address: in.From}})
	to := make([]*mail.Address, 0, len(in.Draft.ToAddresses))
	for _, addr := range in.Draft.ToAddresses {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	if in.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: in.ReplyTo}})
	}
	h.SetSubject(in.Draft.Subject)
	h.SetDate(in.Date)
	h.Set("Message-ID", in.MessageID)
	for _, hdr := range in.Headers {
		if hdr.Key == "" || hdr.Value == "" {
			continue
		}
		h.Add(hdr.Key, hdr.Value)
	}

	contentType := "text/plain"
	if in.Draft.IsHTML {
		contentType = "text/html"
	}

	var buf bytes.Buffer
	if len(in.Attachments) == 0 {
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, in.Draft.Body); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	bw, err := mw.CreateSingleInline(ih)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(bw, in.Draft.Body); err != nil {
		_ = bw.Close()
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	for _, att := range in.Attachments {
		var ah mail.AttachmentHeader
		ct := att.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(att.Name)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", att.Name, err)
		}
		if _, err := aw.Write(att.Contents); err != nil {
			_ = aw.Close()
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
