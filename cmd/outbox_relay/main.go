package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/oksasatya/user-directory/config"
	"github.com/oksasatya/user-directory/internal/application"
	"github.com/oksasatya/user-directory/internal/domain/repository"
	"github.com/oksasatya/user-directory/internal/infrastructure/messaging"
	pginfra "github.com/oksasatya/user-directory/internal/infrastructure/postgres"
	"github.com/oksasatya/user-directory/pkg/helpers"
)

func main() {
	os.Exit(run())
}

// run returns the exit code; deferred closes run before the process exits.
func run() int {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-outbox-relay", cfg.Env, cfg.LogLevel)

	if cfg.StoreDriver != "postgres" {
		logger.Errorf("outbox relay needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pginfra.NewPool(ctx, pginfra.PoolConfig{
		DSN:         cfg.PostgresDSN(),
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		MaxConnLife: cfg.DBMaxConnLife,
	})
	if err != nil {
		logger.Errorf("failed to connect to postgres: %v", err)
		return 1
	}
	defer pool.Close()

	var pub repository.EventPublisher
	switch cfg.EventBroker {
	case "rabbitmq":
		rp, err := messaging.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEventsExchange)
		if err != nil {
			logger.Errorf("rabbitmq publisher: %v", err)
			return 1
		}
		defer rp.Close()
		pub = rp
	case "redis":
		rdb, err := helpers.NewRedisClient(helpers.RedisOptions{URL: cfg.RedisURL, Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Errorf("redis: %v", err)
			return 1
		}
		defer func() { _ = rdb.Close() }()
		pub = messaging.NewStreamPublisher(rdb, cfg.RedisEventsStream, 0)
	default:
		logger.Errorf("unknown EVENT_BROKER %q", cfg.EventBroker)
		return 1
	}

	relay := application.NewOutboxRelay(pginfra.NewOutboxRepository(pool), pub, logger, application.RelayConfig{
		BatchSize:   cfg.OutboxBatchSize,
		Interval:    cfg.OutboxPollInterval,
		LeaseTTL:    cfg.OutboxLeaseTTL,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		helpers.LogError(logger, "outbox relay exited", err, nil)
		return 1
	}
	return 0
}
