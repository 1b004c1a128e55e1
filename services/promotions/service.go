// Package promotions manages time-boxed discounts and the job that retires
// them once they end.
package promotions

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/scheduler"
	"github.com/R3E-Network/storefront/internal/storage"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const (
	ServiceName = "promotions"

	// SweepJob is the scheduler name of the expiry sweep.
	SweepJob             = "promotions.deactivate-expired"
	defaultSweepSchedule = "@every 5m"
)

// Config configures the promotions service.
type Config struct {
	Store   storage.PromotionStore
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service implements promotion reads, admin writes and price resolution.
type Service struct {
	store   storage.PromotionStore
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates the promotions service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListActive returns the promotions running at now.
func (s *Service) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	promos, err := s.store.ListPromotions(ctx, true, now)
	if err != nil {
		return nil, commonservice.StoreError("promotions", "", err)
	}
	return promos, nil
}

// List returns every promotion for the back office.
func (s *Service) List(ctx context.Context) ([]domain.Promotion, error) {
	promos, err := s.store.ListPromotions(ctx, false, s.now())
	if err != nil {
		return nil, commonservice.StoreError("promotions", "", err)
	}
	return promos, nil
}

// Get returns one promotion.
func (s *Service) Get(ctx context.Context, id string) (*domain.Promotion, error) {
	p, err := s.store.GetPromotion(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("promotion", id, err)
	}
	return p, nil
}

// Create validates and stores a promotion with its targets.
func (s *Service) Create(ctx context.Context, p domain.Promotion) (*domain.Promotion, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	created, err := s.store.CreatePromotion(ctx, &p)
	if err != nil {
		return nil, commonservice.StoreError("promotion", "", err)
	}
	s.logger.WithContext(ctx).WithField("promotion_id", created.ID).Info("promotion created")
	return created, nil
}

// Update replaces promotion id, including its target lists.
func (s *Service) Update(ctx context.Context, id string, p domain.Promotion) (*domain.Promotion, error) {
	p.ID = id
	if err := p.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	updated, err := s.store.UpdatePromotion(ctx, &p)
	if err != nil {
		return nil, commonservice.StoreError("promotion", id, err)
	}
	return updated, nil
}

// Delete removes a promotion and its links.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePromotion(ctx, id); err != nil {
		return commonservice.StoreError("promotion", id, err)
	}
	return nil
}

// DeactivateExpired clears the active flag of every promotion past its end.
func (s *Service) DeactivateExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, commonservice.StoreError("promotions", "", err)
	}
	if n > 0 {
		s.metrics.AddPromotionsExpired(n)
		s.logger.WithContext(ctx).WithField("count", n).Info("expired promotions deactivated")
	}
	return n, nil
}

// RegisterSweeper schedules DeactivateExpired. An empty schedule uses every
// five minutes.
func (s *Service) RegisterSweeper(sched *scheduler.Scheduler, schedule string) error {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	return sched.Add(SweepJob, schedule, func(ctx context.Context) error {
		_, err := s.DeactivateExpired(ctx)
		return err
	})
}

// PriceFor returns the price of product at now after the best running
// promotion, and that promotion (nil when none applies).
func (s *Service) PriceFor(ctx context.Context, product *domain.Product, now time.Time) (decimal.Decimal, *domain.Promotion, error) {
	promos, err := s.ListActive(ctx, now)
	if err != nil {
		return product.Price, nil, err
	}
	price, promo := domain.BestPrice(product, promos, now)
	return price, promo, nil
}
