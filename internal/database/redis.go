package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

// NewRedisClient creates a Redis client, waiting for the server to answer.
// Redis backs resume snapshots, question orders, the worker queues and the
// proctor Pub/Sub channel.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if opt.ClientName == "" {
		opt.ClientName = "exstem-session"
	}

	rdb := redis.NewClient(opt)

	if err := retryConnect(ctx, "redis", log, func() error { return rdb.Ping(ctx).Err() }); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}
