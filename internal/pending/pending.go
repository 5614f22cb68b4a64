// Package pending keeps the referral argument of a participant who started
// registration but has not picked a language yet. Entries expire so stale
// starts do not linger.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Store interface {
	Put(ctx context.Context, participantID, refArg string) error
	// Take returns and removes the entry. ok is false when nothing is pending.
	Take(ctx context.Context, participantID string) (refArg string, ok bool, err error)
}

// ---------- Redis ----------

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects using a redis:// URL.
func NewRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, ttl: ttl, prefix: "referral:pending:"}, nil
}

func (r *Redis) Put(ctx context.Context, participantID, refArg string) error {
	return r.client.Set(ctx, r.prefix+participantID, refArg, r.ttl).Err()
}

func (r *Redis) Take(ctx context.Context, participantID string) (string, bool, error) {
	v, err := r.client.GetDel(ctx, r.prefix+participantID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// ---------- Memory ----------

type entry struct {
	refArg  string
	expires time.Time
}

type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) Put(ctx context.Context, participantID, refArg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, id)
		}
	}
	m.entries[participantID] = entry{refArg: refArg, expires: now.Add(m.ttl)}
	return nil
}

func (m *Memory) Take(ctx context.Context, participantID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[participantID]
	if !ok {
		return "", false, nil
	}
	delete(m.entries, participantID)
	if m.now().After(e.expires) {
		return "", false, nil
	}
	return e.refArg, true, nil
}
