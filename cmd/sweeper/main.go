// Command sweeper runs one session sweep and exits. Schedule it from cron or a
// Kubernetes CronJob; concurrent runs are serialised by the Redis lease when
// REDIS_URL is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"asset-register/backend/internal/app"
	"asset-register/backend/internal/config"
	"asset-register/backend/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sweeper:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.OpenInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close(context.Background())

	auditing, err := app.NewAudit(infra)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := auditing.Close(drainCtx); err != nil {
			log.Warn("audit export drain incomplete", zap.Error(err))
		}
	}()

	res, err := app.NewSweeper(infra, auditing.Ledger).Sweep(ctx)
	if err != nil {
		return err
	}
	log.Info("sweep finished",
		zap.Int64("expired", res.Expired),
		zap.Int64("purged_sessions", res.PurgedSessions),
		zap.Int64("purged_tokens", res.PurgedTokens),
		zap.Bool("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return nil
}
