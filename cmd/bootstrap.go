package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-directory/config"
	"github.com/oksasatya/user-directory/internal/container"
	"github.com/oksasatya/user-directory/internal/infrastructure/messaging"
	pginfra "github.com/oksasatya/user-directory/internal/infrastructure/postgres"
	"github.com/oksasatya/user-directory/pkg/helpers"
)

// bootstrap connects every configured backend and publishes it through the
// container. The returned cleanup is safe to call even when err != nil.
func bootstrap(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	container.SetConfig(cfg)
	container.SetLogger(logger)
	container.SetJWT(helpers.NewJWTManager(cfg.JWTSecret, cfg.APITokenTTL, cfg.AppName))

	switch cfg.StoreDriver {
	case "postgres":
		pool, err := pginfra.NewPool(ctx, pginfra.PoolConfig{
			DSN:         cfg.PostgresDSN(),
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			MaxConnLife: cfg.DBMaxConnLife,
		})
		if err != nil {
			return cleanup, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
			return cleanup, fmt.Errorf("migrate: %w", err)
		}
		container.SetPGPool(pool)
	case "memory":
		logger.Warn("using in-memory user store; data is lost on exit")
	default:
		return cleanup, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	rdb, err := helpers.NewRedisClient(redisOptions(cfg))
	if err != nil {
		return cleanup, err
	}
	closers = append(closers, func() { _ = rdb.Close() })
	if err := helpers.PingRedis(ctx, rdb); err != nil {
		logger.WithError(err).Warn("redis unreachable; cache and rate limiting fail open")
	}
	container.SetRedis(rdb)

	switch cfg.EventBroker {
	case "rabbitmq":
		pub, err := messaging.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEventsExchange)
		if err != nil {
			return cleanup, err
		}
		closers = append(closers, pub.Close)
		container.SetPublisher(pub)
	case "redis":
		container.SetPublisher(messaging.NewStreamPublisher(rdb, cfg.RedisEventsStream, 0))
	default:
		return cleanup, fmt.Errorf("unknown EVENT_BROKER %q", cfg.EventBroker)
	}

	if addrs := cfg.ESAddrs(); len(addrs) > 0 {
		es, err := helpers.NewESClient(addrs, cfg.ElasticsearchUser, cfg.ElasticsearchPass)
		if err != nil {
			return cleanup, fmt.Errorf("elasticsearch client: %w", err)
		}
		if err := helpers.EnsureUsersIndex(ctx, es, cfg.ESUsersIndex); err != nil {
			logger.WithError(err).Warn("users index not ensured; search may fail")
		}
		container.SetES(es)
	}

	if cfg.GCSBucket != "" {
		gcs, err := helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
		if err != nil {
			return cleanup, fmt.Errorf("gcs client: %w", err)
		}
		closers = append(closers, func() { _ = gcs.Close() })
		container.SetGCS(gcs)
	}
	return cleanup, nil
}

func redisOptions(cfg *config.Config) helpers.RedisOptions {
	return helpers.RedisOptions{URL: cfg.RedisURL, Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
