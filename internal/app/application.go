package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/storefront/internal/app/httpapi"
	"github.com/R3E-Network/storefront/internal/app/system"
	"github.com/R3E-Network/storefront/internal/cache"
	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/imagegen"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/internal/payments"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/scheduler"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/internal/storage/memory"
	"github.com/R3E-Network/storefront/services/cart"
	"github.com/R3E-Network/storefront/services/catalog"
	"github.com/R3E-Network/storefront/services/checkout"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
	"github.com/R3E-Network/storefront/services/images"
	"github.com/R3E-Network/storefront/services/promotions"
	"github.com/R3E-Network/storefront/services/tracking"
	"github.com/R3E-Network/storefront/services/users"
)

const limiterIdle = 10 * time.Minute

// Deps carries the backends chosen by the caller. A nil Store or Cache
// defaults to the in-memory implementation; a nil Gateway disables card
// payments and a nil Generator disables image generation. Relay, when set,
// builds the database change feed for the hub.
type Deps struct {
	Store     storage.Store
	Cache     cache.Cache
	Gateway   payments.Gateway
	Generator images.Generator
	Uploader  imagegen.Uploader
	Auth      users.AuthProvider
	Relay     func(hub *realtime.Hub) realtime.Relay
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Application ties the storefront services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger
	store   storage.Store
	cache   cache.Cache

	Base      *commonservice.BaseService
	Metrics   *metrics.Metrics
	Hub       *realtime.Hub
	Scheduler *scheduler.Scheduler
	Limiter   *middleware.RateLimiter

	Catalog    *catalog.Service
	Promotions *promotions.Service
	Cart       *cart.Service
	Checkout   *checkout.Service
	Tracking   *tracking.Service
	Users      *users.Service
	Images     *images.Service
	Router     *httpapi.Router
}

// New builds a fully initialised application.
func New(cfg *config.Config, deps Deps) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.Default()
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Auth == nil {
		deps.Auth = users.NewLocalAuth(cfg.TokenSecret())
	}
	imageDir := ""
	if deps.Uploader == nil {
		dir, err := imagegen.NewDirUploader(cfg.ImageDir, "/images")
		if err != nil {
			return nil, err
		}
		deps.Uploader = dir
	}
	if dir, ok := deps.Uploader.(*imagegen.DirUploader); ok {
		imageDir = dir.Dir()
	}
	if deps.Gateway == nil {
		log.Warn("no payment gateway configured; card checkout disabled")
	}
	if deps.Generator == nil {
		log.Warn("no image generator configured; image generation disabled")
	}

	hub := realtime.NewHub(realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         log,
		Metrics:        deps.Metrics,
	})
	sched := scheduler.New(log, time.Minute)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)

	catalogSvc := catalog.New(catalog.Config{
		Store:    deps.Store,
		Cache:    deps.Cache,
		CacheTTL: cfg.CatalogCacheTTL,
		Logger:   log,
	})
	promoSvc := promotions.New(promotions.Config{Store: deps.Store, Logger: log, Metrics: deps.Metrics})
	cartSvc := cart.New(cart.Config{
		Products: deps.Store,
		Pricer:   promoSvc,
		Cache:    deps.Cache,
		TTL:      cfg.CartTTL,
		Logger:   log,
		Metrics:  deps.Metrics,
	})
	checkoutSvc := checkout.New(checkout.Config{
		Store:     deps.Store,
		Carts:     cartSvc,
		Pricer:    promoSvc,
		Gateway:   deps.Gateway,
		Publisher: hub,
		Logger:    log,
		Metrics:   deps.Metrics,
	})
	trackingSvc := tracking.New(tracking.Config{Store: deps.Store, Publisher: hub, Logger: log, Metrics: deps.Metrics})
	usersSvc := users.New(users.Config{
		Store:          deps.Store,
		Auth:           deps.Auth,
		AdminBootstrap: cfg.AdminBootstrap,
		Logger:         log,
	})
	imagesSvc := images.New(images.Config{
		Catalog:   catalogSvc,
		Generator: deps.Generator,
		Uploader:  deps.Uploader,
		Manifest:  config.LoadImageManifestOrDefault(cfg.ImageManifest),
		Logger:    log,
		Metrics:   deps.Metrics,
	})

	if err := promoSvc.RegisterSweeper(sched, cfg.PromotionSweepSchedule); err != nil {
		return nil, fmt.Errorf("register promotion sweeper: %w", err)
	}
	if err := cartSvc.RegisterPurge(sched, ""); err != nil {
		return nil, fmt.Errorf("register cart purge: %w", err)
	}

	base := commonservice.NewBase(commonservice.BaseConfig{
		Name:    httpapi.ServiceName,
		Version: cfg.Version,
		Logger:  log,
		Dependencies: map[string]commonservice.Pinger{
			"store": deps.Store,
			"cache": deps.Cache,
		},
	})
	base.AddTickerWorker("ratelimit.cleanup", time.Minute, func(context.Context) error {
		limiter.Cleanup(limiterIdle)
		return nil
	})
	base.WithStats(func() map[string]any {
		return map[string]any{
			"realtime_subscribers": hub.Subscribers(),
			"rate_limited_clients": limiter.Size(),
			"scheduled_jobs":       sched.Jobs(),
			"payments_enabled":     deps.Gateway != nil,
			"image_generation":     deps.Generator != nil,
		}
	})

	router, err := httpapi.New(httpapi.Config{
		Base:           base,
		Logger:         log,
		Metrics:        deps.Metrics,
		Catalog:        catalogSvc,
		Promotions:     promoSvc,
		Cart:           cartSvc,
		Checkout:       checkoutSvc,
		Tracking:       trackingSvc,
		Users:          usersSvc,
		Images:         imagesSvc,
		Hub:            hub,
		TokenSecret:    cfg.TokenSecret(),
		Roles:          storage.RoleResolver{Users: deps.Store},
		AllowedOrigins: cfg.AllowedOrigins(),
		Limiter:        limiter,
		ImageDir:       imageDir,
		AuditLogPath:   cfg.AuditLogPath,
	})
	if err != nil {
		return nil, err
	}

	a := &Application{
		manager:    system.NewManager(),
		log:        log,
		store:      deps.Store,
		cache:      deps.Cache,
		Base:       base,
		Metrics:    deps.Metrics,
		Hub:        hub,
		Scheduler:  sched,
		Limiter:    limiter,
		Catalog:    catalogSvc,
		Promotions: promoSvc,
		Cart:       cartSvc,
		Checkout:   checkoutSvc,
		Tracking:   trackingSvc,
		Users:      usersSvc,
		Images:     imagesSvc,
		Router:     router,
	}

	services := []system.Service{runner("realtime.hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	}, log)}
	if deps.Relay != nil {
		services = append(services, runner("realtime.relay", deps.Relay(hub).Run, log))
	}
	services = append(services,
		system.Func{
			ServiceName: "scheduler",
			StartFn:     func(context.Context) error { sched.Start(); return nil },
			StopFn:      func(context.Context) error { sched.Stop(); return nil },
		},
		system.Func{
			ServiceName: base.Name(),
			StartFn:     base.Start,
			StopFn:      func(context.Context) error { return base.Stop() },
		},
	)
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return a, nil
}

// runner wraps a blocking loop as a Service. The loop gets its own context,
// cancelled by Stop, and Stop waits for it to return.
func runner(name string, run func(ctx context.Context) error, log *logging.Logger) system.Service {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	return system.Func{
		ServiceName: name,
		StartFn: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				if err := run(ctx); err != nil && ctx.Err() == nil {
					log.WithError(err).WithField("component", name).Error("background loop exited")
				}
			}()
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases the backends.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.Router.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Handler returns the HTTP entry point.
func (a *Application) Handler() http.Handler {
	return a.Router
}
