package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisSlowPing is the round trip above which the session registry
// is reported degraded.
const DefaultRedisSlowPing = 250 * time.Millisecond

// RedisChecker pings the Redis backing the session registry.
type RedisChecker struct {
	client   redis.UniversalClient
	slowPing time.Duration
}

// NewRedisChecker creates a checker for client.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client, slowPing: DefaultRedisSlowPing}
}

func (r *RedisChecker) Name() string { return "redis" }

// Check is down when the ping fails and degraded when it is slow.
func (r *RedisChecker) Check(ctx context.Context) error {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if rtt := time.Since(start); rtt > r.slowPing {
		return Degraded(fmt.Sprintf("redis ping took %s", rtt.Round(time.Millisecond)))
	}
	return nil
}

// Details reports the connection pool state.
func (r *RedisChecker) Details() map[string]interface{} {
	ps := r.client.PoolStats()
	if ps == nil {
		return nil
	}
	return map[string]interface{}{
		"total_conns": ps.TotalConns,
		"idle_conns":  ps.IdleConns,
		"timeouts":    ps.Timeouts,
	}
}
