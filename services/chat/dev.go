package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/carechat/internal/auth"
	"github.com/carechat/internal/config"
	"github.com/carechat/internal/logger"
	"github.com/carechat/internal/model"
	"github.com/carechat/internal/repository"
)

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "carechat"
		password = "carechat_secret"
		database = "carechat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}

var devUsers = []model.User{
	{ID: "6f1c2d4e-0a1b-4c5d-8e9f-000000000001", FirstName: "Anna", LastName: "Ivanova", Role: model.UserRolePatient},
	{ID: "6f1c2d4e-0a1b-4c5d-8e9f-000000000002", FirstName: "Boris", LastName: "Petrov", Role: model.UserRoleCaregiver},
	{ID: "6f1c2d4e-0a1b-4c5d-8e9f-000000000003", FirstName: "Vera", LastName: "Sokolova", Role: model.UserRoleCaregiver},
}

// seedDevUsers создаёт тестовых пользователей (если их нет) и печатает для них токены на сутки.
func seedDevUsers(ctx context.Context, users *repository.UserRepository, cfg *config.Config) {
	for _, u := range devUsers {
		u := u
		if _, err := users.GetByID(ctx, u.ID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logger.Errorf("dev seed: lookup %s: %v", u.ID, err)
				continue
			}
			u.Status = model.UserStatusActive
			u.CreatedAt = time.Now().UTC()
			if err := users.Create(ctx, &u); err != nil {
				logger.Errorf("dev seed: create %s: %v", u.ID, err)
				continue
			}
		}
		tok, err := auth.Issue(cfg.JWT.AccessSecret, cfg.JWT.Issuer, u.ID, string(u.Role), 24*time.Hour)
		if err != nil {
			logger.Errorf("dev seed: token %s: %v", u.ID, err)
			continue
		}
		logger.Infof("dev user %s (%s): %s", u.DisplayName(), u.ID, tok)
	}
}
