// Command server runs the identity and session trust layer: the REST API for
// the asset register frontend and the internal gRPC server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"asset-register/backend/internal/app"
	"asset-register/backend/internal/audit"
	"asset-register/backend/internal/config"
	healthhandler "asset-register/backend/internal/health/handler"
	"asset-register/backend/internal/logger"
	"asset-register/backend/internal/platform/rbac"
	"asset-register/backend/internal/server"
	httpserver "asset-register/backend/internal/server/http"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 20 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
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
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := auditing.Close(drainCtx); err != nil {
			log.Warn("audit export drain incomplete", zap.Error(err))
		}
	}()

	identity, err := app.NewIdentity(ctx, infra, auditing.Ledger)
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	ips := audit.NewIPResolver(proxies)
	health := healthhandler.NewServer(infra.Pingers(), log)

	router := httpserver.NewRouter(httpserver.Deps{
		Auth:        identity.Auth,
		Sweeper:     identity.Sweeper,
		SweepToken:  cfg.SweepToken,
		Ledger:      auditing.Ledger,
		Permissions: rbac.NewStaticGrants().Grant(rbac.PermissionAuditRead, cfg.AuditViewerList()...),
		Health:      health,
		DevOTP:      identity.DevOTP,
		IPs:         ips,
		Metrics:     infra.Metrics,
		Gatherer:    infra.Registry,
		Cookies:     httpserver.CookieConfig{Secure: !cfg.IsDevelopment()},
		CORSOrigins: cfg.CORSOrigins(),
		Log:         log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	grpcDeps := server.Deps{
		Auth:    identity.Auth,
		IPs:     ips,
		Health:  health,
		Metrics: infra.Metrics,
		Log:     log,
	}
	grpcSrv := server.NewGRPCServer(grpcDeps)
	server.RegisterServices(grpcSrv, grpcDeps)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		health.Watch(gctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		health.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
