// Package metrics exposes prometheus collectors for the inbound pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline groups the inbound pipeline collectors. A nil *Pipeline is a
// valid no-op recorder.
type Pipeline struct {
	Messages      *prometheus.CounterVec
	CasesCreated  *prometheus.CounterVec
	AutoReplies   *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	ProcessTiming prometheus.Histogram
	JobRuns       *prometheus.CounterVec
	JobTiming     *prometheus.HistogramVec
}

// New registers the collectors with reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Pipeline{
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_inbound_messages_total",
				Help: "Inbound messages by account and routing outcome.",
			},
			[]string{"account", "outcome"}, // outcome: noted, linked, case_created, orphaned, loop_suppressed, auto_reply, missing, error
		),
		CasesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_cases_created_total",
				Help: "Cases created from inbound email by distribution mode and whether they were assigned.",
			},
			[]string{"distribution", "assigned"},
		),
		AutoReplies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_auto_replies_total",
				Help: "Auto-reply attempts by outcome and skip reason.",
			},
			[]string{"outcome", "reason"},
		),
		FetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_fetch_errors_total",
				Help: "Mailbox poll failures by account.",
			},
			[]string{"account"},
		),
		ProcessTiming: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "caseflow_message_process_seconds",
				Help:    "Time spent routing one inbound message.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		JobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caseflow_scheduler_runs_total",
				Help: "Scheduled job runs by job and status.",
			},
			[]string{"job", "status"},
		),
		JobTiming: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caseflow_scheduler_run_seconds",
				Help:    "Duration of scheduled job runs.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"job"},
		),
	}
}

func (p *Pipeline) Message(account, outcome string) {
	if p == nil {
		return
	}
	p.Messages.WithLabelValues(account, outcome).Inc()
}

func (p *Pipeline) CaseCreated(distribution string, assigned bool) {
	if p == nil {
		return
	}
	a := "false"
	if assigned {
		a = "true"
	}
	p.CasesCreated.WithLabelValues(distribution, a).Inc()
}

func (p *Pipeline) AutoReply(outcome, reason string) {
	if p == nil {
		return
	}
	p.AutoReplies.WithLabelValues(outcome, reason).Inc()
}

func (p *Pipeline) FetchError(account string) {
	if p == nil {
		return
	}
	p.FetchErrors.WithLabelValues(account).Inc()
}

// Since observes the elapsed time from start.
func (p *Pipeline) Since(start time.Time) {
	if p == nil {
		return
	}
	p.ProcessTiming.Observe(time.Since(start).Seconds())
}

// JobRun records one scheduler run of job.
func (p *Pipeline) JobRun(job string, ok bool, d time.Duration) {
	if p == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	p.JobRuns.WithLabelValues(job, status).Inc()
	p.JobTiming.WithLabelValues(job).Observe(d.Seconds())
}
