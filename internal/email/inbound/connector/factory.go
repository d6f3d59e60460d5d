package connector

import (
	"fmt"
	"sync"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// FactoryOption registers fetchers on a Registry.
type FactoryOption func(*Registry)

// Registry maps account types to fetchers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewFactory(opts ...FactoryOption) *Registry {
	r := &Registry{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DefaultFactory serves every POP3 and IMAP account type spelling with
// fetchers sharing opts.
func DefaultFactory(opts ...Option) *Registry {
	return NewFactory(
		WithFetcher(NewPOP3Fetcher(opts...), typesFor("pop3")...),
		WithFetcher(NewIMAPFetcher(opts...), typesFor("imap")...),
	)
}

func WithFetcher(fetcher Fetcher, accountTypes ...string) FactoryOption {
	return func(r *Registry) {
		if fetcher != nil {
			r.Register(fetcher, accountTypes...)
		}
	}
}

// Register binds fetcher to accountTypes, replacing earlier bindings.
func (r *Registry) Register(fetcher Fetcher, accountTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range accountTypes {
		if key := normalizeType(t); key != "" {
			r.fetchers[key] = fetcher
		}
	}
}

func (r *Registry) FetcherFor(account models.InboundAccount) (Fetcher, error) {
	r.mu.RLock()
	fetcher, ok := r.fetchers[normalizeType(account.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for account type %q (account %s)", account.Type, account.ID)
	}
	return fetcher, nil
}
