package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-caseflow/internal/api"
	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/services/scheduler"
)

var noPollFlag bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mailbox poller and the HTTP intake",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noPollFlag, "no-poll", false, "Serve the HTTP intake only, without polling mailboxes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	location, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(a.logger),
		scheduler.WithAccounts(a.accounts),
		scheduler.WithConnectorFactory(connector.DefaultFactory(
			connector.WithDeleteAfterFetch(cfg.Inbound.DeleteAfterFetch),
			connector.WithMaxMessages(cfg.Inbound.MaxMessagesPerPoll),
			connector.WithMaxMessageBytes(cfg.Server.MaxMessageBytes),
			connector.WithLogger(a.logger),
		)),
		scheduler.WithMessageHandler(a.handler),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithLocation(location),
		scheduler.WithJobs(scheduler.EmailPollJob(cfg.Inbound.PollSchedule, cfg.Inbound.MaxAccounts, cfg.Inbound.Workers)),
	}
	if a.codec != nil {
		schedOpts = append(schedOpts, scheduler.WithSecrets(a.codec))
	}
	if a.redis != nil {
		schedOpts = append(schedOpts, scheduler.WithStatusStore(scheduler.NewRedisStatusStore(a.redis, cfg.Redis.KeyPrefix+"poll:", 0)))
	}
	sched := scheduler.NewService(schedOpts...)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	routerOpts := []api.RouterOption{
		api.WithLogger(a.logger),
		api.WithGatherer(a.registry),
		api.WithMaxMessageBytes(cfg.Server.MaxMessageBytes),
	}
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      api.NewRouter(a.accounts, a.handler, routerOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Printf("caseflow: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if !noPollFlag {
		go func() {
			errCh <- sched.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Printf("caseflow: shutdown: %v", shutdownErr)
	}
	a.logger.Printf("caseflow: stopped")
	return err
}
