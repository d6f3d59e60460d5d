package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/metrics"
)

type options struct {
	Logger   *log.Logger
	Accounts AccountLister
	Factory  connector.Factory
	Handler  connector.Handler
	Secrets  adapter.Decrypter
	Metrics  *metrics.Pipeline
	Status   StatusStore
	Cron     *cron.Cron
	Parser   cron.Parser
	Jobs     []Job
	Location *time.Location
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: log.Default(), Location: time.UTC}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithAccounts sets the source of mailboxes to poll.
func WithAccounts(accounts AccountLister) Option {
	return func(o *options) {
		o.Accounts = accounts
	}
}

// WithConnectorFactory replaces the IMAP/POP3 fetcher factory.
func WithConnectorFactory(f connector.Factory) Option {
	return func(o *options) {
		o.Factory = f
	}
}

// WithMessageHandler sets where fetched messages go, normally postmaster.Service.
func WithMessageHandler(h connector.Handler) Option {
	return func(o *options) {
		o.Handler = h
	}
}

// WithSecrets decrypts mailbox passwords before connecting.
func WithSecrets(d adapter.Decrypter) Option {
	return func(o *options) {
		o.Secrets = d
	}
}

// WithMetrics counts fetch failures per account and job runs.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *options) {
		o.Metrics = m
	}
}

// WithStatusStore persists the outcome of every account poll.
func WithStatusStore(s StatusStore) Option {
	return func(o *options) {
		o.Status = s
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs replaces the default job list.
func WithJobs(jobs ...Job) Option {
	return func(o *options) {
		o.Jobs = append([]Job(nil), jobs...)
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}
