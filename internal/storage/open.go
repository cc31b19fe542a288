package storage

import (
	"context"
	"fmt"
	"time"

	"ad-traffic-router/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Open builds the backend named by cfg.Store.Driver and bounds it with
// cfg.Store.OpTimeout.
func Open(ctx context.Context, cfg config.Config) (Gateway, error) {
	var g Gateway
	switch cfg.Store.Driver {
	case "memory":
		g = NewMemoryGateway()
	case "postgres":
		pg, err := NewPostgresGateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		g = pg
		log.Info().Str("dsn", cfg.DSNRedacted()).Msg("postgres store ready")
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err := connect(ctx, "redis", cfg.Store.ConnectAttempts, cfg.Store.ConnectBackoff, func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Err()
		})
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		g = NewRedisGateway(rdb, WithKeyPrefix(cfg.Redis.KeyPrefix))
		log.Info().Str("addr", cfg.Redis.Addr).Int("db", cfg.Redis.DB).Str("prefix", cfg.Redis.KeyPrefix).Msg("redis store ready")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return WithTimeout(g, cfg.Store.OpTimeout), nil
}
