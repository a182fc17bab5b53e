package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultGateTTL = 30 * time.Second

// GateCache is a short-TTL cache of gate decisions, invalidated whenever
// a submission or remediation changes the underlying state. Cache errors
// degrade to misses; they never fail a request. A nil *GateCache is a
// valid no-op cache.
type GateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGateCache creates a gate decision cache. A zero ttl uses the default.
func NewGateCache(client *redis.Client, ttl time.Duration) *GateCache {
	if ttl == 0 {
		ttl = defaultGateTTL
	}
	return &GateCache{client: client, ttl: ttl}
}

func gateKey(studentID, quizID string) string {
	return fmt.Sprintf("gate:%s:%s", studentID, quizID)
}

// Get returns a cached decision, if any.
func (c *GateCache) Get(ctx context.Context, studentID, quizID string) (GateDecision, bool) {
	if c == nil || c.client == nil {
		return GateDecision{}, false
	}

	data, err := c.client.Get(ctx, gateKey(studentID, quizID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("gate cache read failed", "error", err)
		}
		return GateDecision{}, false
	}

	var d GateDecision
	if err := json.Unmarshal(data, &d); err != nil {
		slog.Debug("gate cache entry corrupt", "error", err)
		return GateDecision{}, false
	}
	return d, true
}

// Set caches a decision for the configured TTL.
func (c *GateCache) Set(ctx context.Context, studentID, quizID string, d GateDecision) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, gateKey(studentID, quizID), data, c.ttl).Err(); err != nil {
		slog.Debug("gate cache write failed", "error", err)
	}
}

// Invalidate drops a cached decision after a state change.
func (c *GateCache) Invalidate(ctx context.Context, studentID, quizID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, gateKey(studentID, quizID)).Err(); err != nil {
		slog.Debug("gate cache invalidation failed", "error", err)
	}
}
