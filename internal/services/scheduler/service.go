// Package scheduler polls the configured mailboxes on a cron schedule and
// feeds every fetched message to the inbound pipeline.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/keylock"
	"github.com/gotrs-io/gotrs-caseflow/internal/metrics"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

const stopGrace = 5 * time.Second

// AccountLister returns the mailboxes that should be polled.
type AccountLister interface {
	ActiveAccounts(ctx context.Context) ([]models.InboundAccount, error)
}

// Handler executes a scheduled job.
type Handler func(ctx context.Context, job Job) error

type entry struct {
	job  Job
	id   cron.EntryID
	last *Run
}

// Service runs jobs on their cron schedules and records the last run of each.
type Service struct {
	accounts  AccountLister
	connector connector.Factory
	messages  connector.Handler
	secrets   adapter.Decrypter
	metrics   *metrics.Pipeline
	status    StatusStore
	logger    *log.Logger
	location  *time.Location

	cron   *cron.Cron
	parser cron.Parser

	mu       sync.RWMutex
	entries  map[string]*entry
	handlers map[string]Handler

	baseCtx context.Context
	start   sync.Once
	stop    sync.Once

	rotation rotation
	polling  keylock.Locker
}

// NewService builds a scheduler. Without WithJobs only the email poller is scheduled.
func NewService(opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Factory == nil {
		o.Factory = connector.DefaultFactory(connector.WithLogger(o.Logger))
	}
	if o.Cron == nil {
		o.Cron = cron.New(
			cron.WithLocation(o.Location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(o.Logger))),
		)
	}
	if o.Parser == (cron.Parser{}) {
		o.Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}
	if len(o.Jobs) == 0 {
		o.Jobs = []Job{EmailPollJob("", 0, 0)}
	}

	s := &Service{
		accounts:  o.Accounts,
		connector: o.Factory,
		messages:  o.Handler,
		secrets:   o.Secrets,
		metrics:   o.Metrics,
		status:    o.Status,
		logger:    o.Logger,
		location:  o.Location,
		cron:      o.Cron,
		parser:    o.Parser,
		entries:   make(map[string]*entry),
		handlers:  make(map[string]Handler),
		baseCtx:   context.Background(),
	}
	for _, job := range o.Jobs {
		if job.Slug == "" || job.Schedule == "" {
			continue
		}
		s.entries[job.Slug] = &entry{job: job}
	}
	s.handlers[emailPollHandler] = s.pollMailboxes
	return s
}

// RegisterHandler binds name to handler. A nil handler unbinds the name.
func (s *Service) RegisterHandler(name string, handler Handler) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if handler == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = handler
}

// Run schedules every job and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.start.Do(func() {
		s.baseCtx = ctx
		s.schedule()
		s.cron.Start()
		for _, slug := range s.startupJobs() {
			go s.execute(slug)
		}
	})
	<-ctx.Done()
	s.shutdown()
	return nil
}

// PollOnce runs one email poll immediately and returns the joined fetch errors.
func (s *Service) PollOnce(ctx context.Context) error {
	job, ok := s.Job(emailPollSlug)
	if !ok {
		job = EmailPollJob("", 0, 0)
	}
	return s.pollMailboxes(ctx, job)
}

// Job returns the definition registered under slug.
func (s *Service) Job(slug string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[slug]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// LastRun returns the most recent run of slug, if it has run.
func (s *Service) LastRun(slug string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[slug]
	if !ok || e.last == nil {
		return Run{}, false
	}
	return *e.last, true
}

// schedule registers every job with cron. Jobs with an unparsable schedule
// are logged and left unscheduled.
func (s *Service) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, e := range s.entries {
		sched, err := s.parser.Parse(e.job.Schedule)
		if err != nil {
			s.logger.Printf("scheduler: job %s: bad schedule %q: %v", slug, e.job.Schedule, err)
			continue
		}
		slug := slug
		e.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.execute(slug) }))
	}
}

func (s *Service) startupJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for slug, e := range s.entries {
		if e.job.RunOnStartup {
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Service) shutdown() {
	s.stop.Do(func() {
		select {
		case <-s.cron.Stop().Done():
		case <-time.After(stopGrace):
			s.logger.Printf("scheduler: jobs still running after %s, giving up", stopGrace)
		}
	})
}

// execute runs one job and records the outcome. Panics fail the run.
func (s *Service) execute(slug string) {
	s.mu.RLock()
	e, ok := s.entries[slug]
	var (
		job     Job
		handler Handler
	)
	if ok {
		job = e.job
		handler = s.handlers[job.Handler]
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	run := Run{Started: s.now()}
	err := s.invoke(handler, job)
	run.Finished = s.now()
	if err != nil {
		run.Err = err.Error()
		s.logger.Printf("scheduler: job %s failed: %v", slug, err)
	}
	s.metrics.JobRun(slug, err == nil, run.Duration())
	s.record(slug, run)
}

func (s *Service) invoke(handler Handler, job Job) (err error) {
	if handler == nil {
		return fmt.Errorf("handler %s not registered", job.Handler)
	}
	ctx := s.baseCtx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (s *Service) record(slug string, run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[slug]
	if !ok {
		return
	}
	if next := s.cron.Entry(e.id); next.ID != 0 && !next.Next.IsZero() {
		run.Next = next.Next.In(s.location)
	}
	e.last = &run
}

func (s *Service) now() time.Time {
	return time.Now().In(s.location)
}
