package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is a pending "email received" notification for one agent.
type Event struct {
	NoteID     string    `json:"note_id"`
	ParentType string    `json:"parent_type"`
	ParentID   string    `json:"parent_id"`
	EmailID    string    `json:"email_id"`
	Subject    string    `json:"subject"`
	IsNewCase  bool      `json:"is_new_case"`
	At         time.Time `json:"at"`
}

// Hub fans events out to agents until they consume them.
type Hub interface {
	Dispatch(ctx context.Context, recipients []string, ev Event) error
	Consume(ctx context.Context, userID string) ([]Event, error)
}

type memoryHub struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewMemoryHub() Hub {
	return &memoryHub{events: make(map[string][]Event)}
}

func (m *memoryHub) Dispatch(_ context.Context, recipients []string, ev Event) error {
	if len(recipients) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range recipients {
		if uid == "" {
			continue
		}
		list := m.events[uid]
		replaced := false
		for i := range list {
			if list[i].EmailID == ev.EmailID && list[i].ParentID == ev.ParentID {
				list[i] = ev
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, ev)
		}
		m.events[uid] = list
	}
	return nil
}

func (m *memoryHub) Consume(_ context.Context, userID string) ([]Event, error) {
	if userID == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.events[userID]
	delete(m.events, userID)
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]Event, len(list))
	copy(out, list)
	return out, nil
}

// RedisHub keeps one list per agent so every node sees the same inbox.
type RedisHub struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisHub(client redis.Cmdable, prefix string, ttl time.Duration) *RedisHub {
	if prefix == "" {
		prefix = "caseflow:notify:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisHub{client: client, prefix: prefix, ttl: ttl}
}

func (h *RedisHub) Dispatch(ctx context.Context, recipients []string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uid := range recipients {
			if uid == "" {
				continue
			}
			key := h.prefix + uid
			pipe.RPush(ctx, key, payload)
			pipe.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis dispatch: %w", err)
	}
	return nil
}

func (h *RedisHub) Consume(ctx context.Context, userID string) ([]Event, error) {
	if userID == "" {
		return nil, nil
	}
	key := h.prefix + userID
	var items *redis.StringSliceCmd
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis consume: %w", err)
	}
	var out []Event
	for _, raw := range items.Val() {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
