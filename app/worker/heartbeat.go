package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Heartbeat publishes worker liveness to redis. Each loop writes a key
// with a TTL slightly above the poll interval; the health endpoint reads
// the keys back to report which workers are alive. A nil Heartbeat is a
// no-op so the engine runs without redis.
type Heartbeat struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewHeartbeat(rc *redis.Client, prefix string, ttl time.Duration) *Heartbeat {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Heartbeat{rc: rc, prefix: prefix, ttl: ttl}
}

// Beat refreshes the liveness key for the named worker. Errors are
// returned for logging only; a missed beat never stops the loop.
func (h *Heartbeat) Beat(ctx context.Context, name string) error {
	if h == nil {
		return nil
	}
	key := h.prefix + "heartbeat:" + name
	return h.rc.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), h.ttl).Err()
}

// Alive reports whether the named worker's liveness key is present
func (h *Heartbeat) Alive(ctx context.Context, name string) bool {
	if h == nil {
		return false
	}
	key := h.prefix + "heartbeat:" + name
	n, err := h.rc.Exists(ctx, key).Result()
	return err == nil && n > 0
}
