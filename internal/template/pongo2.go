// Package template renders reply email templates with pongo2.
package template

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// Store is what the renderer needs from the entity store.
type Store interface {
	GetEmailTemplate(ctx context.Context, id string) (*models.EmailTemplate, error)
	CopyAttachment(ctx context.Context, id string, parent *models.ParentLink) (*models.Attachment, error)
}

// Data is the entity hash exposed to templates as Case, Person, Contact,
// Email and User.
type Data struct {
	Case    *models.Case
	Contact *models.Contact
	Email   *models.Email
	User    *models.User
}

// Rendered is a parsed template ready to be put on a draft.
type Rendered struct {
	Subject       string
	Body          string
	IsHTML        bool
	AttachmentIDs []string
}

// Renderer parses EmailTemplate records. Compiled templates are cached by source.
type Renderer struct {
	store  Store
	policy *bluemonday.Policy
	md     goldmark.Markdown

	mu    sync.RWMutex
	cache map[string]*pongo2.Template
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithPolicy replaces the sanitizer applied to bodies wrapped in HTML.
func WithPolicy(p *bluemonday.Policy) Option {
	return func(r *Renderer) {
		if p != nil {
			r.policy = p
		}
	}
}

func NewRenderer(store Store, opts ...Option) *Renderer {
	r := &Renderer{
		store:  store,
		policy: bluemonday.UGCPolicy(),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		cache: make(map[string]*pongo2.Template),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Render parses the template with the given data. Template attachments are
// copied so the caller owns independent records. With wrapInHTML a plain
// text template body is converted to sanitized HTML.
func (r *Renderer) Render(ctx context.Context, templateID string, data Data, wrapInHTML bool) (*Rendered, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("template renderer not configured")
	}
	tpl, err := r.store.GetEmailTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}
	pctx := data.context()

	subject, err := r.execute(tpl.Subject, false, pctx)
	if err != nil {
		return nil, fmt.Errorf("template %s subject: %w", templateID, err)
	}
	body, err := r.execute(tpl.Body, tpl.IsHTML, pctx)
	if err != nil {
		return nil, fmt.Errorf("template %s body: %w", templateID, err)
	}

	out := &Rendered{
		Subject: strings.TrimSpace(strings.ReplaceAll(subject, "\n", " ")),
		Body:    body,
		IsHTML:  tpl.IsHTML,
	}
	if wrapInHTML && !tpl.IsHTML {
		var buf strings.Builder
		if err := r.md.Convert([]byte(body), &buf); err != nil {
			return nil, fmt.Errorf("template %s markdown: %w", templateID, err)
		}
		out.Body = r.policy.Sanitize(buf.String())
		out.IsHTML = true
	}

	for _, id := range tpl.AttachmentIDs {
		cp, err := r.store.CopyAttachment(ctx, id, nil)
		if err != nil {
			return nil, fmt.Errorf("template %s attachment %s: %w", templateID, id, err)
		}
		out.AttachmentIDs = append(out.AttachmentIDs, cp.ID)
	}
	return out, nil
}

func (r *Renderer) execute(source string, escape bool, pctx pongo2.Context) (string, error) {
	if source == "" {
		return "", nil
	}
	if !escape {
		source = "{% autoescape off %}" + source + "{% endautoescape %}"
	}
	r.mu.RLock()
	tmpl, ok := r.cache[source]
	r.mu.RUnlock()
	if !ok {
		var err error
		tmpl, err = pongo2.FromString(source)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[source] = tmpl
		r.mu.Unlock()
	}
	return tmpl.Execute(pctx)
}

func (d Data) context() pongo2.Context {
	ctx := pongo2.Context{}
	if d.Case != nil {
		ctx["Case"] = d.Case
	}
	if d.Contact != nil {
		ctx["Contact"] = d.Contact
		ctx["Person"] = d.Contact
	}
	if d.Email != nil {
		ctx["Email"] = d.Email
	}
	if d.User != nil {
		ctx["User"] = d.User
	}
	return ctx
}
