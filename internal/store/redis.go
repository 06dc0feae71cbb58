package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"price-alerts/internal/models"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key is the hash holding the snapshot, one field per alert id.
	Key string
}

// RedisStore keeps the alert set in a Redis hash. Saves build a staging hash
// and RENAME it over the live key inside MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis. The connection is verified lazily.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Key == "" {
		return nil, fmt.Errorf("redis store key is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: rdb, key: opts.Key}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load reads every alert in the hash, oldest first.
func (s *RedisStore) Load(ctx context.Context) ([]models.Alert, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, ioFailure("load", s.key, err)
	}

	alerts := make([]models.Alert, 0, len(fields))
	for id, raw := range fields {
		var a models.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, corrupt("load", s.key, fmt.Errorf("field %s: %w", id, err))
		}
		if a.ID != id {
			return nil, corrupt("load", s.key, fmt.Errorf("field %s holds alert %q", id, a.ID))
		}
		alerts = append(alerts, a)
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})

	if err := validateLoaded(alerts); err != nil {
		return nil, corrupt("load", s.key, err)
	}
	return alerts, nil
}

// Save atomically replaces the hash with alerts.
func (s *RedisStore) Save(ctx context.Context, alerts []models.Alert) error {
	values := make(map[string]interface{}, len(alerts))
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return ioFailure("save", s.key, err)
		}
		values[a.ID] = data
	}

	staging := s.key + ":staging:" + uuid.NewString()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) == 0 {
			pipe.Del(ctx, s.key)
			return nil
		}
		pipe.HSet(ctx, staging, values)
		pipe.Rename(ctx, staging, s.key)
		return nil
	})
	if err != nil {
		// A failed EXEC can leave the staging hash behind.
		s.client.Del(context.WithoutCancel(ctx), staging)
		return ioFailure("save", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
