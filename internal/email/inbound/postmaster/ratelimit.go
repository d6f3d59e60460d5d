package postmaster

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplyLimiter hands out auto-reply slots per normalized recipient address.
type ReplyLimiter interface {
	// Reserve takes a slot if fewer than limit were taken within period.
	Reserve(ctx context.Context, address string, limit int, period time.Duration) (bool, error)
	// Release returns a slot whose reply was never delivered.
	Release(ctx context.Context, address string) error
}

var reserveScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n > tonumber(ARGV[2]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisReplyLimiter counts replies per address in Redis so that every node
// shares one budget. The window starts with the first reply.
type RedisReplyLimiter struct {
	client redis.Scripter
	prefix string
}

// NewRedisReplyLimiter stores counters under prefix (default "caseflow:autoreply:").
func NewRedisReplyLimiter(client redis.Scripter, prefix string) *RedisReplyLimiter {
	if prefix == "" {
		prefix = "caseflow:autoreply:"
	}
	return &RedisReplyLimiter{client: client, prefix: prefix}
}

func (l *RedisReplyLimiter) Reserve(ctx context.Context, address string, limit int, period time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = DefaultAutoReplySuppressPeriod.Milliseconds()
	}
	n, err := reserveScript.Run(ctx, l.client, []string{l.prefix + address}, ms, limit).Int()
	if err != nil {
		return false, fmt.Errorf("redis reply limit %s: %w", address, err)
	}
	return n == 1, nil
}

func (l *RedisReplyLimiter) Release(ctx context.Context, address string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + address}).Err(); err != nil {
		return fmt.Errorf("redis reply release %s: %w", address, err)
	}
	return nil
}
