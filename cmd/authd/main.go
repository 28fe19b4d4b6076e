// Command authd serves the OncoSafeRx authentication core: token
// verification, MFA enrollment and verification, tenant RBAC and the
// tamper-evident audit trail, over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	authcore "github.com/oncosaferx/authcore"
	"github.com/oncosaferx/authcore/httpapi"
	"github.com/oncosaferx/authcore/internal/stores"
)

func main() {
	cfg, err := authcore.FromEnv()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := buildLogger(cfg.Production)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authd exited", zap.Error(err))
	}
}

func buildLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg authcore.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := authcore.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(authcore.NewJSONAuditSink(os.Stdout))

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		builder.WithRedis(client)
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var ready httpapi.ReadyProbe
	if cfg.Postgres.DSN != "" {
		db, err := stores.OpenDB(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := stores.EnsureSchema(ctx, db); err != nil {
			return err
		}
		builder.
			WithMFAStore(stores.NewPGCredentialStore(db)).
			WithProfileStore(stores.NewPGProfileStore(db)).
			WithOracle(stores.NewPGGrantOracle(db))
		ready.DB = db
		logger.Info("postgres connected")
	} else {
		logger.Warn("no postgres dsn configured, using in-memory stores")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	api := httpapi.New(engine, ready)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.Bool("production", cfg.Production))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
