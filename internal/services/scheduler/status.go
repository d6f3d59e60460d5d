package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PollStatus is the outcome of one account poll.
type PollStatus struct {
	AccountID string
	At        time.Time
	OK        bool
	Error     string
}

// StatusStore keeps the latest poll status per account for operators.
type StatusStore interface {
	RecordPoll(ctx context.Context, status PollStatus) error
}

// RedisStatusStore writes poll status hashes with a TTL.
type RedisStatusStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStatusStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStatusStore {
	if prefix == "" {
		prefix = "caseflow:poll:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStatusStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStatusStore) RecordPoll(ctx context.Context, status PollStatus) error {
	key := r.prefix + status.AccountID
	state := "ok"
	if !status.OK {
		state = "error"
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"account_id", status.AccountID,
			"last_poll_at", status.At.Format(time.RFC3339),
			"last_status", state,
			"last_error", status.Error,
		)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis poll status %s: %w", status.AccountID, err)
	}
	return nil
}

// Status reads back a stored poll status.
func (r *RedisStatusStore) Status(ctx context.Context, accountID string) (PollStatus, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+accountID).Result()
	if err != nil {
		return PollStatus{}, false, fmt.Errorf("redis poll status %s: %w", accountID, err)
	}
	if len(fields) == 0 {
		return PollStatus{}, false, nil
	}
	at, _ := time.Parse(time.RFC3339, fields["last_poll_at"])
	return PollStatus{
		AccountID: accountID,
		At:        at,
		OK:        fields["last_status"] == "ok",
		Error:     fields["last_error"],
	}, true, nil
}
