// Package api exposes the HTTP surface: health, version, metrics and raw message intake.
package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/gotrs-caseflow/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
	"github.com/gotrs-io/gotrs-caseflow/internal/version"
)

const (
	intakeConnector        = "api"
	defaultMaxMessageBytes = 30 << 20
)

// AccountSource resolves configured inbound accounts.
type AccountSource interface {
	Account(id string) (models.InboundAccount, bool)
}

type router struct {
	accounts AccountSource
	handler  connector.Handler
	gatherer prometheus.Gatherer
	maxBytes int64
	logger   *log.Logger
	now      func() time.Time
}

// RouterOption customizes NewRouter.
type RouterOption func(*router)

// WithGatherer sets the registry served on /metrics (default prometheus.DefaultGatherer).
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(r *router) {
		if g != nil {
			r.gatherer = g
		}
	}
}

// WithMaxMessageBytes caps the accepted raw message size.
func WithMaxMessageBytes(n int64) RouterOption {
	return func(r *router) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

func WithLogger(logger *log.Logger) RouterOption {
	return func(r *router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter builds the gin engine. Messages posted to an account run through
// the same handler the mailbox poller uses.
func NewRouter(accounts AccountSource, handler connector.Handler, opts ...RouterOption) *gin.Engine {
	r := &router{
		accounts: accounts,
		handler:  handler,
		gatherer: prometheus.DefaultGatherer,
		maxBytes: defaultMaxMessageBytes,
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	engine := gin.New()
	engine.Use(RequestID(), gin.Logger(), gin.Recovery())

	engine.GET("/healthz", r.healthCheck)
	engine.GET("/version", func(c *gin.Context) { c.JSON(http.StatusOK, version.GetInfo()) })
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1")
	v1.POST("/accounts/:id/messages", r.postMessage)
	return engine
}

func (r *router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": r.now().Unix(),
	})
}

// postMessage handles POST /api/v1/accounts/:id/messages with an RFC 5322 body.
func (r *router) postMessage(c *gin.Context) {
	account, ok := r.accounts.Account(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if !account.Active {
		c.JSON(http.StatusConflict, gin.H{"error": "account is inactive"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, r.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "message too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read message"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	remoteID := c.GetHeader("X-Remote-ID")
	if remoteID == "" {
		remoteID = c.GetString(requestIDKey)
	}
	msg := &connector.FetchedMessage{
		Connector:  intakeConnector,
		UID:        remoteID,
		RemoteID:   remoteID,
		ReceivedAt: r.now(),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
		Metadata:   map[string]string{"remote_addr": c.ClientIP()},
	}
	msg.WithAccount(account)

	if err := r.handler.Handle(c.Request.Context(), msg); err != nil {
		r.logger.Printf("api: account %s message %s: %v", account.ID, remoteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"account":   account.ID,
		"remote_id": remoteID,
	})
}
