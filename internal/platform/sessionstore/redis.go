package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "patientforms:screen:"

// KV is the subset of Redis the snapshot store needs. It lets tests swap
// Redis for a map.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

var errKeyMissing = errors.New("key missing")

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errKeyMissing
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// KVStore stores snapshots as JSON values with a TTL refreshed on save.
type KVStore struct {
	kv  KV
	ttl time.Duration
}

func NewKVStore(kv KV, ttl time.Duration) *KVStore {
	return &KVStore{kv: kv, ttl: ttl}
}

func (s *KVStore) Save(ctx context.Context, snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+snap.SessionID, string(raw), s.ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *KVStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, errKeyMissing) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *KVStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.kv.Del(ctx, keyPrefix+sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
