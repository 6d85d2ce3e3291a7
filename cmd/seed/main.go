// seed creates an initial operator account so a fresh deployment can log in.
// Idempotent: an existing username is left untouched.
//
//	SEED_PASSWORD=... go run ./cmd/seed -username registrar -phone "+91 98765 43210"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"asset-register/backend/internal/config"
	"asset-register/backend/internal/db"
	"asset-register/backend/internal/logger"
	"asset-register/backend/internal/security"
	userdomain "asset-register/backend/internal/user/domain"
	userrepo "asset-register/backend/internal/user/repository"
)

func main() {
	username := flag.String("username", "registrar", "Username of the account to create")
	phone := flag.String("phone", "", "Optional phone number for SMS OTP delivery")
	flag.Parse()

	if err := run(*username, *phone, os.Getenv("SEED_PASSWORD")); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(username, phone, password string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if password == "" {
		return errors.New("SEED_PASSWORD must be set")
	}
	if err := security.DefaultPasswordPolicy.ValidatePassword(password); err != nil {
		return fmt.Errorf("SEED_PASSWORD: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := userrepo.NewPostgresRepository(pool)
	existing, err := users.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("seed check: %w", err)
	}
	if existing != nil {
		log.Info("seed already applied", zap.String("username", username))
		return nil
	}

	hasher := security.NewHasher(security.Argon2Params{
		Memory:      cfg.Argon2MemoryKB,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
	})
	hash, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	u := &userdomain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Phone:        phone,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	log.Info("seed completed", zap.String("username", username), zap.String("user_id", u.ID))
	return nil
}
