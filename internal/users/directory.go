// Package users resolves display projections of marketplace users,
// reading through a redis cache in front of the store of record.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-chat/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Source is the store of record for user projections
type Source interface {
	UsersByIDs(ctx context.Context, ids []int64) ([]storage.User, error)
}

// Config defines fields used for parsing from environment variables
type Config struct {
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL           time.Duration `env:"USER_CACHE_TTL" envDefault:"10m"`
}

// NewClient returns a redis client for cfg or nil when no address is configured
func NewClient(cfg Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Directory looks profiles up in the cache first and loads misses from Source.
// Lookups never fail: users that can not be resolved are missing from the result.
type Directory struct {
	logger *zap.SugaredLogger
	source Source
	cache  redis.Cmdable
	ttl    time.Duration
}

// NewDirectory returns a Directory, cache may be nil to always read the source
func NewDirectory(logger *zap.SugaredLogger, source Source, cache redis.Cmdable, ttl time.Duration) *Directory {
	return &Directory{
		logger: logger,
		source: source,
		cache:  cache,
		ttl:    ttl,
	}
}

func cacheKey(id int64) string {
	return fmt.Sprintf("chat:user:%d", id)
}

func (d *Directory) Profiles(ctx context.Context, ids []int64) map[int64]storage.User {
	ids = lo.Uniq(ids)
	found := make(map[int64]storage.User, len(ids))
	if len(ids) == 0 {
		return found
	}

	missing := d.fromCache(ctx, ids, found)
	if len(missing) == 0 {
		return found
	}

	loaded, err := d.source.UsersByIDs(ctx, missing)
	if err != nil {
		d.logger.Warnw("load user profiles", "ids", missing, "error", err)
		return found
	}

	for _, u := range loaded {
		found[u.ID] = u
	}
	d.toCache(ctx, loaded)

	return found
}

// fromCache fills found with cached users and returns ids that were not cached
func (d *Directory) fromCache(ctx context.Context, ids []int64, found map[int64]storage.User) []int64 {
	if d.cache == nil {
		return ids
	}

	values, err := d.cache.MGet(ctx, lo.Map(ids, func(id int64, _ int) string { return cacheKey(id) })...).Result()
	if err != nil {
		d.logger.Debugw("user cache read", "error", err)
		return ids
	}

	var missing []int64
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}

		var u storage.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[u.ID] = u
	}
	return missing
}

func (d *Directory) toCache(ctx context.Context, users []storage.User) {
	if d.cache == nil || len(users) == 0 {
		return
	}

	_, err := d.cache.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			payload, err := json.Marshal(u)
			if err != nil {
				return err
			}
			pipe.Set(ctx, cacheKey(u.ID), payload, d.ttl)
		}
		return nil
	})
	if err != nil {
		d.logger.Debugw("user cache write", "error", err)
	}
}

// forget drops cached profiles
func (d *Directory) forget(ctx context.Context, ids ...int64) error {
	if d.cache == nil || len(ids) == 0 {
		return nil
	}
	return d.cache.Del(ctx, lo.Map(ids, func(id int64, _ int) string { return cacheKey(id) })...).Err()
}
