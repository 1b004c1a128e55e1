// Package service provides the lifecycle shared by the storefront services:
// background workers, stop handling and dependency health.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/storefront/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency whose reachability is part of service health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	Name    string
	Version string
	Logger  *logging.Logger
	// Dependencies are probed by CheckHealth, keyed by a short name.
	Dependencies map[string]Pinger
}

// BaseService provides:
// - Safe stop channel management (sync.Once prevents double-close panic)
// - Optional hydration hook run on Start
// - Background worker management
// - Statistics provider for the info endpoint
type BaseService struct {
	name    string
	version string
	logger  *logging.Logger

	stopCh   chan struct{}
	stopOnce sync.Once

	hydrate func(context.Context) error
	statsFn func() map[string]any
	workers []func(context.Context)
	wg      sync.WaitGroup

	deps            map[string]Pinger
	healthMu        sync.RWMutex
	depStatus       map[string]string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	deps := make(map[string]Pinger, len(cfg.Dependencies))
	for k, v := range cfg.Dependencies {
		if v != nil {
			deps[k] = v
		}
	}
	return &BaseService{
		name:      cfg.Name,
		version:   cfg.Version,
		logger:    cfg.Logger,
		stopCh:    make(chan struct{}),
		deps:      deps,
		depStatus: make(map[string]string),
	}
}

// Name returns the service name.
func (b *BaseService) Name() string { return b.name }

// Version returns the service version.
func (b *BaseService) Version() string { return b.version }

// Logger returns the service logger.
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithHydrate sets a hook executed during Start before workers launch.
func (b *BaseService) WithHydrate(fn func(context.Context) error) *BaseService {
	b.hydrate = fn
	return b
}

// WithStats sets a statistics provider for the info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// Stats returns the registered statistics, or nil.
func (b *BaseService) Stats() map[string]any {
	if b.statsFn == nil {
		return nil
	}
	return b.statsFn()
}

// AddWorker registers a background worker started by Start. Workers must
// return when ctx is done or StopChan is closed.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers fn to run every interval until Stop.
func (b *BaseService) AddTickerWorker(name string, interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithContext(ctx).WithError(err).WithField("worker", name).Warn("worker run failed")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start runs hydrate once, then spins workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return err
		}
	}

	for _, w := range b.workers {
		worker := w
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			worker(ctx)
		}()
	}
	b.logger.WithFields(map[string]interface{}{"service": b.name, "workers": len(b.workers)}).Info("service started")
	return nil
}

// Stop signals workers and waits for them. Safe to call more than once.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// CheckHealth probes every dependency and caches the result.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := make(map[string]string, len(b.deps))
	for name, dep := range b.deps {
		if err := dep.Ping(ctx); err != nil {
			b.logger.WithContext(ctx).WithError(err).WithField("dependency", name).Warn("health check failed")
			status[name] = "down"
			continue
		}
		status[name] = "up"
	}

	b.healthMu.Lock()
	b.depStatus = status
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus refreshes health and returns "healthy" or "unhealthy".
func (b *BaseService) HealthStatus(ctx context.Context) string {
	b.CheckHealth(ctx)
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	for _, s := range b.depStatus {
		if s != "up" {
			return "unhealthy"
		}
	}
	return "healthy"
}

// HealthDetails describes the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	deps := make(map[string]string, len(b.depStatus))
	for k, v := range b.depStatus {
		deps[k] = v
	}
	details := map[string]any{"dependencies": deps}
	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.UTC().Format(time.RFC3339)
	}
	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.Truncate(time.Second).String()
	return details
}
