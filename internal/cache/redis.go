package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix   = "chant:cache:"
	redisKeysSet  = redisPrefix + "keys"
	redisActionNS = redisPrefix + "action:"
	redisEntryNS  = redisPrefix + "entry:"
)

// RedisRepository stores each record as a JSON string, indexed by a set of
// all keys and one set per action.
type RedisRepository struct {
	client *redis.Client
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Save(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	prev, err := r.Find(ctx, rec.Key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	moved := err == nil && prev.ActionID != rec.ActionID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if moved {
			pipe.SRem(ctx, redisActionNS+prev.ActionID, rec.Key)
		}
		pipe.Set(ctx, redisEntryNS+rec.Key, b, 0)
		pipe.SAdd(ctx, redisKeysSet, rec.Key)
		pipe.SAdd(ctx, redisActionNS+rec.ActionID, rec.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", rec.Key, err)
	}
	return nil
}

func (r *RedisRepository) Find(ctx context.Context, key string) (Record, error) {
	b, err := r.client.Get(ctx, redisEntryNS+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, nil
}

func (r *RedisRepository) FindByActionID(ctx context.Context, actionID string) ([]Record, error) {
	keys, err := r.client.SMembers(ctx, redisActionNS+actionID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return r.load(ctx, keys)
}

func (r *RedisRepository) List(ctx context.Context) ([]Record, error) {
	keys, err := r.client.SMembers(ctx, redisKeysSet).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return r.load(ctx, keys)
}

func (r *RedisRepository) load(ctx context.Context, keys []string) ([]Record, error) {
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := r.Find(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	rec, err := r.Find(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisEntryNS+key)
		pipe.SRem(ctx, redisKeysSet, key)
		pipe.SRem(ctx, redisActionNS+rec.ActionID, key)
		return nil
	})
	return err
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	recs, err := r.List(ctx)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range recs {
			pipe.Del(ctx, redisEntryNS+rec.Key, redisActionNS+rec.ActionID)
		}
		pipe.Del(ctx, redisKeysSet)
		return nil
	})
	return err
}

func (r *RedisRepository) Close() error { return r.client.Close() }
