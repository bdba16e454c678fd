// Command seed creates the default accounts in an empty database. Existing
// accounts are left untouched, so it is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/internal/config"
	"github.com/utafrali/accounts/internal/event"
	"github.com/utafrali/accounts/internal/repository/postgres"
	"github.com/utafrali/accounts/internal/service"
	"github.com/utafrali/accounts/migrations"
	"github.com/utafrali/accounts/pkg/database"
	apperrors "github.com/utafrali/accounts/pkg/errors"
	"github.com/utafrali/accounts/pkg/logger"
)

var seedUsers = []service.RegisterInput{
	{Name: "Administrator", Email: "admin@email.com", Password: "Admin12@"},
	{Name: "Regular User", Email: "user@email.com", Password: "Aa12345!"},
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("accounts-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return err
	}

	users := postgres.NewUserRepository(pool)
	accounts := service.NewAccountService(
		users,
		postgres.NewRefreshTokenRepository(pool),
		auth.NewPasswordHasher(auth.DefaultArgon2Params),
		event.NopPublisher{},
		log,
	)

	for _, in := range seedUsers {
		_, err := users.GetByEmail(ctx, in.Email)
		if err == nil {
			log.Info("user already present", slog.String("email", in.Email))
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		u, err := accounts.Register(ctx, in)
		if err != nil {
			// A soft-deleted account still holds its email.
			if errors.Is(err, apperrors.ErrAlreadyExists) {
				log.Warn("email reserved by a deleted user", slog.String("email", in.Email))
				continue
			}
			return err
		}
		log.Info("seeded user", slog.String("email", u.Email), slog.String("id", u.ID))
	}
	return nil
}
