package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "otp:donor:"

// RedisStore shares pending entries between instances. Expiry is delegated
// to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to the server at rawURL and checks it answers.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return client, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode otp entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set otp entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, fmt.Errorf("redis get otp entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.client.Del(ctx, redisKeyPrefix+key)
		return Entry{}, fmt.Errorf("decode otp entry: %w", err)
	}
	return entry, nil
}

// Swap runs under WATCH so a concurrent Delete or Put aborts the write.
func (s *RedisStore) Swap(ctx context.Context, key string, prev, next Entry, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("encode otp entry: %w", err)
	}

	redisKey := redisKeyPrefix + key
	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		} else if err != nil {
			return err
		}
		var current Entry
		if err := json.Unmarshal(raw, &current); err != nil || !current.equal(prev) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, redisKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis swap otp entry: %w", err)
	}
	return swapped, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete otp entry: %w", err)
	}
	return removed > 0, nil
}
