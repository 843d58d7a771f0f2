package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisFieldFeature  = "feature_id"
	redisFieldScope    = "scope_key"
	redisFieldCount    = "count"
	redisFieldCooldown = "cooldown_start_at"
	redisFieldUpdated  = "updated_at"
)

// RedisBackend stores each usage record as a Redis hash under
// "{prefix}{featureId}:{scopeKey}". Keys carry no TTL.
type RedisBackend struct {
	client    goredis.UniversalClient
	keyPrefix string
	timeout   time.Duration
}

var _ Backend = (*RedisBackend)(nil)

// RedisOption configures RedisBackend.
type RedisOption func(*RedisBackend)

// WithKeyPrefix sets the Redis key prefix (default "cooldown:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) { r.keyPrefix = prefix }
}

// WithTimeout bounds each Redis round trip (default 2s).
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisBackend) { r.timeout = d }
}

// NewRedisBackend wraps a connected client. The backend owns the client and
// closes it on Close.
func NewRedisBackend(client goredis.UniversalClient, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		client:    client,
		keyPrefix: "cooldown:usage:",
		timeout:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisBackend) redisKey(key Key) string {
	return r.keyPrefix + key.String()
}

func (r *RedisBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// GetRecord loads the hash for key.
func (r *RedisBackend) GetRecord(ctx context.Context, key Key) (*UsageRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, r.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decodeRedisRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return rec, nil
}

// PutRecord writes the hash atomically; an unarmed record removes the
// cooldown field.
func (r *RedisBackend) PutRecord(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	rk := r.redisKey(record.Key())

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, rk,
			redisFieldFeature, record.FeatureID,
			redisFieldScope, record.ScopeKey,
			redisFieldCount, record.Count,
			redisFieldUpdated, updated.UnixNano(),
		)
		if record.CooldownStartAt != nil {
			pipe.HSet(ctx, rk, redisFieldCooldown, record.CooldownStartAt.UnixNano())
		} else {
			pipe.HDel(ctx, rk, redisFieldCooldown)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put %s: %w", record.Key(), err)
	}
	return nil
}

// List scans all keys under the prefix.
func (r *RedisBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	var records []*UsageRecord

	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := r.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list %s: %w", iter.Val(), err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRedisRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("redis: decode %s: %w", iter.Val(), err)
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().String() < records[j].Key().String()
	})
	return records, nil
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func decodeRedisRecord(fields map[string]string) (*UsageRecord, error) {
	rec := &UsageRecord{
		FeatureID: fields[redisFieldFeature],
		ScopeKey:  fields[redisFieldScope],
	}

	if v := fields[redisFieldCount]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		rec.Count = n
	}
	if v := fields[redisFieldUpdated]; v != "" {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("updated_at: %w", err)
		}
		rec.UpdatedAt = time.Unix(0, ns)
	}
	if v := fields[redisFieldCooldown]; v != "" {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cooldown_start_at: %w", err)
		}
		t := time.Unix(0, ns)
		rec.CooldownStartAt = &t
	}

	if err := rec.Key().Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
