package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.Message("support", "created")
	p.Message("support", "created")
	p.CaseCreated("Round-Robin", true)
	p.AutoReply("skipped", "rate_limited")
	p.FetchError("support")
	p.Since(time.Now())
	p.JobRun("email-ingest", true, 1500*time.Millisecond)
	p.JobRun("email-ingest", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Messages.WithLabelValues("support", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.CasesCreated.WithLabelValues("Round-Robin", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.AutoReplies.WithLabelValues("skipped", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.FetchErrors.WithLabelValues("support")))

	n, err := testutil.GatherAndCount(reg, "caseflow_message_process_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.JobRuns.WithLabelValues("email-ingest", "failed")))
	n, err = testutil.GatherAndCount(reg, "caseflow_scheduler_run_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	p.Message("a", "b")
	p.CaseCreated("x", false)
	p.AutoReply("sent", "")
	p.FetchError("a")
	p.Since(time.Now())
	p.JobRun("j", true, 0)
}
