// Package main runs the storefront HTTP service. Backends are selected from
// the environment: STORAGE_DRIVER picks memory, postgres or supabase, and
// optional keys enable Stripe, image generation and Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/storefront/internal/app"
	"github.com/R3E-Network/storefront/internal/cache"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/imagegen"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/payments"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/storage/memory"
	"github.com/R3E-Network/storefront/internal/storage/postgres"
	supabasestore "github.com/R3E-Network/storefront/internal/storage/supabase"
	"github.com/R3E-Network/storefront/services/users"
	"github.com/R3E-Network/storefront/supabase/client"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().WithError(err).Fatal("Failed to load configuration")
	}
	log := logging.New("storefront", cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise backends")
	}

	application, err := app.New(cfg, deps)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start application")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).WithField("storage", cfg.StorageDriver).Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-errCh:
		log.WithError(err).Error("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Application stop error")
	}
	log.Info("Service stopped")
}

// buildDeps opens the backends named by cfg.
func buildDeps(ctx context.Context, cfg *config.Config, log *logging.Logger) (app.Deps, error) {
	deps := app.Deps{Logger: log}

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return deps, err
		}
		if err := migrations.Apply(ctx, store.DB().DB); err != nil {
			_ = store.Close()
			return deps, err
		}
		deps.Store = store
		deps.Relay = func(hub *realtime.Hub) realtime.Relay {
			return realtime.NewPQRelay(cfg.DatabaseURL, hub, log)
		}
	case config.DriverSupabase:
		c, err := client.New(client.Config{
			URL:              cfg.SupabaseURL,
			APIKey:           cfg.SupabaseServiceKey,
			EnableResilience: true,
		})
		if err != nil {
			return deps, err
		}
		deps.Store = supabasestore.New(c)
		deps.Auth = users.NewSupabaseAuth(c)
		deps.Uploader = imagegen.NewBucketUploader(c, cfg.ImageBucket)
		deps.Relay = func(hub *realtime.Hub) realtime.Relay {
			return realtime.NewSupabaseRelay(c.Realtime(), hub, log)
		}
	default:
		deps.Store = memory.New()
	}

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL, "storefront:")
		if err != nil {
			return deps, err
		}
		deps.Cache = rc
	}

	if cfg.StripeSecretKey != "" {
		gw, err := payments.NewStripe(payments.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			Currency:  cfg.StripeCurrency,
			Countries: cfg.ShippingCountries(),
			Logger:    log,
		})
		if err != nil {
			return deps, err
		}
		deps.Gateway = gw
	}

	if cfg.OpenAIAPIKey != "" {
		gen, err := imagegen.NewGenerator(imagegen.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.ImageModel,
			Size:    cfg.ImageSize,
			URLPath: cfg.ImageURLPath,
			Logger:  log,
		})
		if err != nil {
			return deps, err
		}
		deps.Generator = gen
	}

	if deps.Auth == nil && cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; sign-in and authenticated routes are disabled")
	}
	return deps, nil
}
