package filters

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// LoopDetector flags messages produced by other automated systems so the
// postmaster neither opens cases for them nor answers them.
type LoopDetector struct {
	logger *log.Logger
}

// LoopDetectorOption customizes the detector.
type LoopDetectorOption func(*LoopDetector)

// WithLoopDetectorLogger overrides the logger.
func WithLoopDetectorLogger(l *log.Logger) LoopDetectorOption {
	return func(d *LoopDetector) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewLoopDetector constructs the filter.
func NewLoopDetector(opts ...LoopDetectorOption) *LoopDetector {
	d := &LoopDetector{logger: log.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// ID implements Filter.
func (d *LoopDetector) ID() string { return "loop_detector" }

// Apply sets AnnotationAutoReply and AnnotationSkipAutoReply from the message headers.
func (d *LoopDetector) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(m.Message.Raw)))
	if err != nil {
		d.logf("loop_detector: parse failed: %v", err)
		return nil
	}
	header := mail.Header{Header: message.Header{Header: h}}

	auto := isAutoGenerated(header)
	skip := auto || isBounceSender(header)
	if auto {
		m.Annotate(AnnotationAutoReply, true)
	}
	if skip {
		m.Annotate(AnnotationSkipAutoReply, true)
		d.logf("loop_detector: suppressing auto-reply for %s (auto=%t)", m.Message.RemoteID, auto)
	}
	return nil
}

var bulkPrecedence = map[string]struct{}{
	"auto_reply": {},
	"bulk":       {},
	"junk":       {},
	"list":       {},
}

func isAutoGenerated(h mail.Header) bool {
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	if h.Has("X-Autoreply") || h.Has("X-Autorespond") {
		return true
	}
	if _, ok := bulkPrecedence[strings.ToLower(strings.TrimSpace(h.Get("Precedence")))]; ok {
		return true
	}
	for _, token := range strings.Split(h.Get("X-Auto-Response-Suppress"), ",") {
		switch strings.ToLower(strings.TrimSpace(token)) {
		case "all", "autoreply":
			return true
		}
	}
	return false
}

var bounceLocalParts = []string{"mailer-daemon", "postmaster", "noreply", "no-reply", "no_reply", "donotreply"}

func isBounceSender(h mail.Header) bool {
	if strings.TrimSpace(h.Get("Return-Path")) == "<>" {
		return true
	}
	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 {
		return false
	}
	local, _, _ := strings.Cut(strings.ToLower(from[0].Address), "@")
	for _, candidate := range bounceLocalParts {
		if local == candidate {
			return true
		}
	}
	return false
}

func (d *LoopDetector) logf(format string, args ...any) {
	if d == nil || d.logger == nil {
		return
	}
	d.logger.Printf(format, args...)
}
