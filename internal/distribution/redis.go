package distribution

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// nextScript mirrors nextAfter server side so concurrent workers on
// different nodes share one pointer per team.
var nextScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local pick = ARGV[1]
if last then
  for i = 1, #ARGV do
    if ARGV[i] > last then
      pick = ARGV[i]
      break
    end
  end
end
redis.call('SET', KEYS[1], pick)
return pick
`)

// RedisCursorStore keeps round-robin cursors in Redis.
type RedisCursorStore struct {
	client redis.Scripter
	prefix string
}

// RedisCursorOption customizes a RedisCursorStore.
type RedisCursorOption func(*RedisCursorStore)

// WithKeyPrefix sets the key namespace (default "caseflow:rr:").
func WithKeyPrefix(prefix string) RedisCursorOption {
	return func(s *RedisCursorStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisCursorStore(client redis.Scripter, opts ...RedisCursorOption) *RedisCursorStore {
	s := &RedisCursorStore{client: client, prefix: "caseflow:rr:"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisCursorStore) Next(ctx context.Context, key string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	args := make([]interface{}, len(candidates))
	for i, c := range candidates {
		args[i] = c
	}
	picked, err := nextScript.Run(ctx, s.client, []string{s.prefix + key}, args...).Text()
	if err != nil {
		return "", fmt.Errorf("redis cursor %s: %w", key, err)
	}
	return picked, nil
}
