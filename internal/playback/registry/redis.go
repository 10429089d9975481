package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/nanoplay/internal/logger"
)

const defaultKeyPrefix = "nanoplay:sessions:"

var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, id)
	return 1
`)

var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local expired = {}

	for i, id in ipairs(active) do
		local session = redis.call('GET', prefix .. id)
		if session then
			table.insert(result, session)
		else
			table.insert(expired, id)
		end
	end

	for i, id in ipairs(expired) do
		redis.call('SREM', active_key, id)
	end

	return result
`)

var statusScript = redis.NewScript(`
	local key = KEYS[1]
	local ttl = tonumber(ARGV[1])
	local now = ARGV[2]
	local status = ARGV[3]
	local message = ARGV[4]
	local data = redis.call('GET', key)
	if not data then
		return redis.error_reply("session not found")
	end
	local session = cjson.decode(data)
	session.last_heartbeat = now
	if status ~= "" then
		session.status = status
		if message == "" then
			session.error = nil
		else
			session.error = message
		end
	end
	redis.call('SET', key, cjson.encode(session), 'PX', ttl)
	return "OK"
`)

// RedisRegistry keeps each session as a JSON value with a TTL plus an
// active set of ids. Sessions whose heartbeat stops expire on their own.
type RedisRegistry struct {
	client redis.UniversalClient
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(client redis.UniversalClient, log logger.Logger, prefix string, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisRegistry{
		client: client,
		logger: logger.WithComponent(log, "registry"),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(id string) string { return r.prefix + id }
func (r *RedisRegistry) activeKey() string    { return r.prefix + "active" }

// Register adds a session or refreshes an existing one.
func (r *RedisRegistry) Register(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id required")
	}
	key := r.key(s.ID)

	existing, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var prev Session
		if err := json.Unmarshal(existing, &prev); err == nil {
			s.CreatedAt = prev.CreatedAt
		}
	case errors.Is(err, redis.Nil):
		existing = nil
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now()
		}
	default:
		return fmt.Errorf("failed to check existing session: %w", err)
	}
	s.LastHeartbeat = time.Now()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if existing != nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		r.logger.WithField("session_id", s.ID).Debug("Session refreshed")
		return nil
	}

	n, err := registerScript.Run(ctx, r.client, []string{key, r.activeKey()}, data, r.ttl.Milliseconds(), s.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s already exists", s.ID)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": s.ID,
		"status":     s.Status,
		"backend":    s.Backend,
	}).Info("Session registered")
	return nil
}

// Unregister removes a session.
func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	if err := r.client.SRem(ctx, r.activeKey(), id).Err(); err != nil {
		r.logger.WithError(err).Warnf("Failed to remove session %s from active set", id)
	}
	if deleted == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	r.logger.WithField("session_id", id).Info("Session unregistered")
	return nil
}

// Get returns one session.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// List returns every live session and prunes expired ids from the active
// set.
func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	sessions := make([]*Session, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

// UpdateHeartbeat refreshes the TTL and heartbeat time.
func (r *RedisRegistry) UpdateHeartbeat(ctx context.Context, id string) error {
	return r.runStatus(ctx, id, "", "")
}

// UpdateStatus sets the status and error message.
func (r *RedisRegistry) UpdateStatus(ctx context.Context, id string, status Status, message string) error {
	if status == "" {
		return fmt.Errorf("status required")
	}
	if err := r.runStatus(ctx, id, status, message); err != nil {
		return err
	}
	r.logger.WithFields(map[string]interface{}{
		"session_id": id,
		"status":     status,
	}).Debug("Session status updated")
	return nil
}

func (r *RedisRegistry) runStatus(ctx context.Context, id string, status Status, message string) error {
	now := time.Now().Format(time.RFC3339Nano)
	err := statusScript.Run(ctx, r.client, []string{r.key(id)}, r.ttl.Milliseconds(), now, string(status), message).Err()
	if err != nil {
		if strings.Contains(err.Error(), "session not found") {
			return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// UpdateStats replaces the stats block in an optimistic transaction so
// the counters keep their integer encoding.
func (r *RedisRegistry) UpdateStats(ctx context.Context, id string, stats *SessionStats) error {
	key := r.key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
			}
			return err
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		s.Stats = stats
		s.LastHeartbeat = time.Now()
		updated, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to update stats for session %s: too much contention", id)
}

// Close closes the Redis client.
func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
