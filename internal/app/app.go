// Package app wires configuration into the running pieces of the trust layer.
// The server and sweeper binaries share it so both build identical ledgers,
// repositories and sweepers.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"asset-register/backend/internal/config"
	"asset-register/backend/internal/db"
	healthhandler "asset-register/backend/internal/health/handler"
	"asset-register/backend/internal/metrics"
	otelsetup "asset-register/backend/internal/telemetry/otel"
)

// Infra is the process-wide infrastructure: storage clients, metrics and
// telemetry providers.
type Infra struct {
	Config    *config.Config
	Log       *zap.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client // nil when REDIS_URL is unset
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Telemetry *otelsetup.Providers
}

// OpenInfra connects to Postgres (and Redis when configured) and installs the
// OpenTelemetry providers globally. Close releases everything.
func OpenInfra(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()

	pool, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}
	infra := &Infra{Config: cfg, Log: log, Pool: pool, Telemetry: providers}

	if cfg.RedisURL != "" {
		rdb, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			infra.Close(ctx)
			return nil, err
		}
		infra.Redis = rdb
	}

	infra.Registry = prometheus.NewRegistry()
	infra.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	infra.Metrics = metrics.New(infra.Registry)
	return infra, nil
}

// Pingers returns the readiness dependencies.
func (i *Infra) Pingers() map[string]healthhandler.Pinger {
	deps := map[string]healthhandler.Pinger{"postgres": i.Pool}
	if i.Redis != nil {
		deps["redis"] = healthhandler.PingFunc(func(ctx context.Context) error {
			return i.Redis.Ping(ctx).Err()
		})
	}
	return deps
}

// Close flushes telemetry and closes the storage clients.
func (i *Infra) Close(ctx context.Context) {
	var errs []error
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	if i.Telemetry != nil {
		errs = append(errs, i.Telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		i.Log.Warn("infra close", zap.Error(err))
	}
}
