// Package filters inspects fetched messages before they reach the postmaster.
package filters

import (
	"context"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// MessageContext is the mutable envelope filters operate on.
type MessageContext struct {
	Account     models.InboundAccount
	Message     *connector.FetchedMessage
	Annotations map[string]any
}

// Annotate records a value, allocating the map on first use.
func (m *MessageContext) Annotate(key string, value any) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	m.Annotations[key] = value
}

// Flag reads a boolean annotation; missing or non-boolean values are false.
func (m *MessageContext) Flag(key string) bool {
	if m == nil {
		return false
	}
	v, _ := m.Annotations[key].(bool)
	return v
}

// Filter inspects or annotates a message before it hits the postmaster.
type Filter interface {
	ID() string
	Apply(ctx context.Context, m *MessageContext) error
}

// Chain executes filters in order, short-circuiting on error.
type Chain struct {
	filters []Filter
}

// NewChain returns a filter chain that runs the provided filters sequentially.
func NewChain(fs ...Filter) Chain {
	return Chain{filters: fs}
}

// Run executes the chain.
func (c Chain) Run(ctx context.Context, m *MessageContext) error {
	for _, f := range c.filters {
		if err := f.Apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
