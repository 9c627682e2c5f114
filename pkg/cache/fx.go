package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/relaya/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New builds the shared redis client used for feature-gate caching, rate
// limiting and scheduler locks.
func New(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func registerHooks(lc fx.Lifecycle, client *redis.Client, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// Redis is an accelerator here, not a dependency; degrade
				// instead of refusing to start.
				log.Warn("redis unreachable, caching and rate limiting degraded", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
}

var Module = fx.Module("cache",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
