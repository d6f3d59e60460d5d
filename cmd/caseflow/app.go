package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/gotrs-caseflow/internal/cache"
	"github.com/gotrs-io/gotrs-caseflow/internal/casenumber"
	"github.com/gotrs-io/gotrs-caseflow/internal/config"
	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
	"github.com/gotrs-io/gotrs-caseflow/internal/customfields"
	"github.com/gotrs-io/gotrs-caseflow/internal/distribution"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/importer"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-caseflow/internal/mailer"
	"github.com/gotrs-io/gotrs-caseflow/internal/metrics"
	"github.com/gotrs-io/gotrs-caseflow/internal/notifications"
	"github.com/gotrs-io/gotrs-caseflow/internal/repository"
	"github.com/gotrs-io/gotrs-caseflow/internal/template"
)

// entityStore is what the pipeline needs from persistence. Both the memory
// and the SQL store provide it.
type entityStore interface {
	postmaster.Store
	importer.Store
	template.Store
	notifications.NoteStore
	distribution.Roster
	distribution.LoadCounter
	mailer.AttachmentSource
}

type app struct {
	cfg      *config.Config
	logger   *log.Logger
	accounts *config.Registry
	codec    *crypt.Codec
	store    entityStore
	db       *sqlx.DB
	redis    redis.UniversalClient
	registry *prometheus.Registry
	metrics  *metrics.Pipeline
	handler  postmaster.Service
	closers  []io.Closer
}

func newLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer, error) {
	flags := 0
	if cfg.Timestamps {
		flags = log.LstdFlags | log.LUTC
	}
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return log.New(os.Stderr, cfg.Prefix, flags), nil, nil
	case "stdout":
		return log.New(os.Stdout, cfg.Prefix, flags), nil, nil
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(f, cfg.Prefix, flags), f, nil
}

// newApp wires the whole inbound pipeline from configuration.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, logCloser, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	secrets, err := config.NewSecretValidator(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	a.codec = secrets.Codec()

	a.accounts, err = config.LoadAccounts(cfg.Inbound.AccountsFile)
	if err != nil {
		return nil, err
	}
	for _, w := range a.accounts.Warnings() {
		logger.Printf("config: %s", w)
	}
	if err := secrets.ValidateAccounts(a.accounts.All()); err != nil {
		return nil, err
	}
	if err := secrets.ValidateEmail(cfg.Email); err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled {
		a.redis, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.redis)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	transport, err := a.transport(ctx)
	if err != nil {
		return nil, err
	}
	sender := mailer.NewSender(mailer.Defaults{
		FromAddress: cfg.Email.From,
		FromName:    cfg.Email.FromName,
		Domain:      cfg.Email.Domain,
	}, transport, mailer.WithAttachmentSource(a.store), mailer.WithLogger(logger))

	guardOpts := []postmaster.GuardOption{
		postmaster.WithReplyLimit(cfg.AutoReply.Limit),
		postmaster.WithSuppressPeriod(cfg.AutoReply.SuppressPeriod),
		postmaster.WithSystemUser(cfg.Inbound.SystemUserID),
	}
	if a.codec != nil {
		guardOpts = append(guardOpts, postmaster.WithSecrets(a.codec))
	}
	if a.redis != nil {
		guardOpts = append(guardOpts, postmaster.WithReplyLimiter(postmaster.NewRedisReplyLimiter(a.redis, cfg.Redis.KeyPrefix+"autoreply:")))
	}
	guard := postmaster.NewAutoReplyGuard(a.store, template.NewRenderer(a.store), sender, guardOpts...)

	var (
		hub     notifications.Hub
		cursors distribution.CursorStore
	)
	if a.redis != nil {
		hub = notifications.NewRedisHub(a.redis, cfg.Redis.KeyPrefix+"notify:", 0)
		cursors = distribution.NewRedisCursorStore(a.redis, distribution.WithKeyPrefix(cfg.Redis.KeyPrefix+"rr:"))
	} else {
		hub = notifications.NewMemoryHub()
		cursors = distribution.NewMemoryCursorStore()
	}
	stream := notifications.NewStream(a.store, notifications.WithHub(hub), notifications.WithLogger(logger))
	assigner := distribution.NewAssigner(a.store, cursors, a.store)

	dispatcherOpts := []postmaster.DispatcherOption{
		postmaster.WithDispatcherLogger(logger),
		postmaster.WithDispatcherMetrics(a.metrics),
	}
	if cfg.Inbound.CustomFieldsSchema != "" {
		schema, err := customfields.Load(cfg.Inbound.CustomFieldsSchema)
		if err != nil {
			return nil, err
		}
		dispatcherOpts = append(dispatcherOpts, postmaster.WithCaseFieldSchema(schema))
	}

	a.handler = postmaster.Service{
		FilterChain: filters.NewChain(filters.NewLoopDetector(filters.WithLoopDetectorLogger(logger))),
		Importer: importer.New(a.store,
			importer.WithLogger(logger),
			importer.WithBodyLimit(cfg.Inbound.BodyLimit),
			importer.WithAttachmentLimit(cfg.Inbound.AttachmentLimit),
		),
		Handler: postmaster.NewDispatcher(a.store, stream, assigner, guard, dispatcherOpts...),
		Metrics: a.metrics,
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	dbCfg := a.cfg.Database
	if dbCfg.Driver == "" {
		a.logger.Printf("caseflow: no database configured, using the in-memory store")
		a.store = repository.NewMemoryStore()
		return nil
	}
	db, err := repository.Open(dbCfg.Driver, dbCfg.DSN)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db)
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

	store := repository.NewSQLStore(db, repository.WithSQLNumbers(casenumber.NewSequence(casenumber.NewDBStore(db, "case"))))
	if dbCfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}
	a.store = store
	return nil
}

func (a *app) transport(ctx context.Context) (mailer.Transport, error) {
	switch strings.ToLower(a.cfg.Email.Transport) {
	case "ses":
		ses := a.cfg.Email.SES
		return mailer.NewSESTransport(ctx, mailer.SESConfig{
			Region:          ses.Region,
			AccessKeyID:     ses.AccessKeyID,
			SecretAccessKey: ses.SecretAccessKey,
		})
	default:
		settings := a.cfg.Email.SMTP.Settings()
		if a.codec != nil && settings.Password != "" {
			plain, err := a.codec.Decrypt(settings.Password)
			if err != nil {
				return nil, fmt.Errorf("email.smtp.password: %w", err)
			}
			settings.Password = plain
		}
		return mailer.NewSMTPTransport(settings), nil
	}
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Printf("caseflow: close: %v", err)
		}
	}
	a.closers = nil
}
