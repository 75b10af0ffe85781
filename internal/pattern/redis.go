package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Each pattern is a hash at <prefix>:pattern:<id>. The sorted set
// <prefix>:patterns indexes ids by last_seen_at in unix milliseconds.
// Every mutation runs as one Lua script so counters never lose updates.

var upsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1],
    'id', ARGV[1], 'signature', ARGV[2],
    'occurrence_count', 1, 'success_count', 0, 'failure_count', 0,
    'first_seen_at', ARGV[3], 'last_seen_at', ARGV[3])
else
  redis.call('HINCRBY', KEYS[1], 'occurrence_count', 1)
  redis.call('HSET', KEYS[1], 'last_seen_at', ARGV[3])
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return redis.call('HGETALL', KEYS[1])
`)

var attachScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HSET', KEYS[1], 'remediation', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local last = tonumber(redis.call('HGET', KEYS[1], 'last_applied_at') or '0')
local now = tonumber(ARGV[1])
if last > 0 and now - last < tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'last_applied_at', ARGV[1])
return 1
`)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps patterns in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "mender"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("redis pattern store ready", zap.String("address", cfg.Address), zap.String("prefix", cfg.Prefix))
	return &RedisStore{client: client, prefix: cfg.Prefix, logger: logger}, nil
}

func (s *RedisStore) patternKey(id string) string { return s.prefix + ":pattern:" + id }
func (s *RedisStore) indexKey() string            { return s.prefix + ":patterns" }

func (s *RedisStore) UpsertBySignature(ctx context.Context, signature string, seenAt time.Time) (*Pattern, error) {
	id := IDFor(signature)
	res, err := upsertScript.Run(ctx, s.client,
		[]string{s.patternKey(id), s.indexKey()},
		id, signature, seenAt.UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("upsert pattern: %w", err)
	}
	return decodeHash(res)
}

func (s *RedisStore) Get(ctx context.Context, signature string) (*Pattern, error) {
	p, err := s.GetByID(ctx, IDFor(signature))
	if err != nil {
		return nil, err
	}
	if p.Signature != signature {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (*Pattern, error) {
	fields, err := s.client.HGetAll(ctx, s.patternKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fromFields(fields)
}

func (s *RedisStore) IncrementOutcome(ctx context.Context, id string, outcome Outcome) (*Pattern, error) {
	if _, err := ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}
	field := "failure_count"
	if outcome == OutcomeSuccess {
		field = "success_count"
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.patternKey(id)}, field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("increment outcome: %w", err)
	}
	return decodeHash(res)
}

func (s *RedisStore) AttachRemediation(ctx context.Context, id string, d Descriptor) (*Pattern, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode remediation: %w", err)
	}

	res, err := attachScript.Run(ctx, s.client, []string{s.patternKey(id)}, string(data)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attach remediation: %w", err)
	}
	return decodeHash(res)
}

func (s *RedisStore) ClaimApplication(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error) {
	res, err := claimScript.Run(ctx, s.client, []string{s.patternKey(id)},
		now.UnixMilli(), cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("claim application: %w", err)
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Pattern, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pattern ids: %w", err)
	}
	if len(ids) == 0 {
		return []*Pattern{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.patternKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	out := make([]*Pattern, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			s.logger.Warn("pattern index references missing hash", zap.String("id", ids[i]))
			continue
		}
		p, err := fromFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortByLastSeen(out)
	return out, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// decodeHash converts an HGETALL reply returned from Lua into a Pattern.
func decodeHash(res any) (*Pattern, error) {
	flat, ok := res.([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("unexpected script reply %T", res)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return fromFields(fields)
}

func fromFields(f map[string]string) (*Pattern, error) {
	p := &Pattern{ID: f["id"], Signature: f["signature"]}

	var err error
	if p.OccurrenceCount, err = parseInt(f, "occurrence_count"); err != nil {
		return nil, err
	}
	if p.SuccessCount, err = parseInt(f, "success_count"); err != nil {
		return nil, err
	}
	if p.FailureCount, err = parseInt(f, "failure_count"); err != nil {
		return nil, err
	}
	if p.FirstSeenAt, err = parseMillis(f, "first_seen_at"); err != nil {
		return nil, err
	}
	if p.LastSeenAt, err = parseMillis(f, "last_seen_at"); err != nil {
		return nil, err
	}
	if p.LastAppliedAt, err = parseMillis(f, "last_applied_at"); err != nil {
		return nil, err
	}

	if raw := f["remediation"]; raw != "" {
		var d Descriptor
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode remediation of %s: %w", p.ID, err)
		}
		p.Remediation = &d
	}
	return p, nil
}

func parseInt(f map[string]string, key string) (int64, error) {
	raw, ok := f[key]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseMillis(f map[string]string, key string) (time.Time, error) {
	ms, err := parseInt(f, key)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
