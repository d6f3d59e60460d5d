package postmaster

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

type countingLimiter struct {
	mu       sync.Mutex
	taken    map[string]int
	released []string
	err      error
}

func (l *countingLimiter) Reserve(_ context.Context, address string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.taken == nil {
		l.taken = make(map[string]int)
	}
	if l.taken[address] >= limit {
		return false, nil
	}
	l.taken[address]++
	return true, nil
}

func (l *countingLimiter) Release(_ context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taken[address]--
	l.released = append(l.released, address)
	return nil
}

func TestZeroReplyLimitDisablesReplies(t *testing.T) {
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimit(0)}})

	res := h.guard.Send(context.Background(), replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipRateLimited, res.Reason)
	assert.Empty(t, h.transport.envelopes())
}

func TestNegativeReplyLimitKeepsDefault(t *testing.T) {
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimit(-3)}})
	assert.Equal(t, DefaultAutoReplyLimit, h.guard.limit)
}

func TestSharedLimiterDeniesReply(t *testing.T) {
	limiter := &countingLimiter{taken: map[string]int{"jane.doe@example.com": 5}}
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimiter(limiter)}})

	res := h.guard.Send(context.Background(), replyAccount(), &models.Email{FromAddress: "Jane.Doe@Example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipRateLimited, res.Reason)
	assert.Empty(t, h.transport.envelopes())
	assert.Empty(t, limiter.released)
}

func TestSharedLimiterSlotReturnedWhenSendFails(t *testing.T) {
	limiter := &countingLimiter{}
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimiter(limiter)}})
	ctx := context.Background()
	h.transport.err = errors.New("relay down")

	res := h.guard.Send(ctx, replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, []string{"jane.doe@example.com"}, limiter.released)
	assert.Zero(t, limiter.taken["jane.doe@example.com"])

	h.transport.err = nil
	res = h.guard.Send(ctx, replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "again"}, nil, nil)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 1, limiter.taken["jane.doe@example.com"])
	assert.Len(t, limiter.released, 1)
}

func TestSharedLimiterErrorFailsReply(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis offline")}
	h := newHarness(t, harnessConfig{guardOpts: []GuardOption{WithReplyLimiter(limiter)}})

	res := h.guard.Send(context.Background(), replyAccount(), &models.Email{FromAddress: "jane.doe@example.com", Subject: "hi"}, nil, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "redis offline")
	assert.Empty(t, h.transport.envelopes())
}

func TestRedisReplyLimiterIntegration(t *testing.T) {
	addr := os.Getenv("CASEFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASEFLOW_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "caseflow:test:autoreply:"
	key := prefix + "bot@example.com"
	client.Del(ctx, key)
	t.Cleanup(func() { client.Del(ctx, key) })

	limiter := NewRedisReplyLimiter(client, prefix)
	ok, err := limiter.Reserve(ctx, "bot@example.com", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = limiter.Reserve(ctx, "bot@example.com", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = limiter.Reserve(ctx, "bot@example.com", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, limiter.Release(ctx, "bot@example.com"))
	ok, err = limiter.Reserve(ctx, "bot@example.com", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
