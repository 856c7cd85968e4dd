package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/oksasatya/user-directory/config"
	"github.com/oksasatya/user-directory/internal/application"
	pginfra "github.com/oksasatya/user-directory/internal/infrastructure/postgres"
	"github.com/oksasatya/user-directory/pkg/helpers"
)

var demoUsers = []application.CreateUserInput{
	{Name: "Ann", Email: "ann@x.com", Age: 30},
	{Name: "Budi", Email: "budi@x.com", Age: 27},
	{Name: "Citra", Email: "citra@x.com", Age: 41},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run creates demo users through the lifecycle service, so their CREATE
// events land in the outbox, and prints a write token for the API.
func run() error {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env, cfg.LogLevel)
	ctx := context.Background()

	pool, err := pginfra.NewPool(ctx, pginfra.PoolConfig{
		DSN:         cfg.PostgresDSN(),
		MaxConns:    2,
		MinConns:    1,
		MaxConnLife: cfg.DBMaxConnLife,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	svc := application.NewService(pginfra.NewUserRepository(pool), nil, application.DeliveryOutbox, logger)
	for _, in := range demoUsers {
		u, err := svc.Create(ctx, in)
		if errors.Is(err, application.ErrEmailTaken) {
			fmt.Printf("exists: %s\n", in.Email)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", in.Email, err)
		}
		fmt.Printf("seeded user: id=%s email=%s name=%s\n", u.ID, u.Email, u.Name)
	}

	jwt := helpers.NewJWTManager(cfg.JWTSecret, cfg.APITokenTTL, cfg.AppName)
	token, exp, err := jwt.GenerateToken("seed", helpers.ScopeUsersWrite)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Printf("write token (expires %s):\n%s\n", exp.Format("2006-01-02 15:04"), token)
	return nil
}
