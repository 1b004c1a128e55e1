// Package cart keeps per-session shopping carts in the cache.
package cart

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/storefront/internal/cache"
	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/scheduler"
	"github.com/R3E-Network/storefront/internal/storage"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const (
	ServiceName = "cart"

	// PurgeJob is the scheduler name of the expired cart purge.
	PurgeJob   = "cart.purge-expired"
	keyPrefix  = "cart:"
	defaultTTL = 24 * time.Hour

	lockStripes = 64
)

// Pricer resolves the current unit price of a product.
type Pricer interface {
	PriceFor(ctx context.Context, product *domain.Product, now time.Time) (decimal.Decimal, *domain.Promotion, error)
}

// Config configures the cart service.
type Config struct {
	Products storage.ProductStore
	Pricer   Pricer
	Cache    cache.Cache
	TTL      time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// Service implements the session cart.
type Service struct {
	products storage.ProductStore
	pricer   Pricer
	cache    cache.Cache
	ttl      time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// Serialises read-modify-write cycles of a session.
	locks [lockStripes]sync.Mutex
}

// New creates the cart service.
func New(cfg Config) *Service {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		products: cfg.Products,
		pricer:   cfg.Pricer,
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewSessionID returns a fresh cart session id.
func NewSessionID() string { return uuid.NewString() }

// ValidSessionID reports whether id has the session id format.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Service) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *Service) load(ctx context.Context, sessionID string) (*Cart, error) {
	c := &Cart{SessionID: sessionID}
	err := cache.GetJSON(ctx, s.cache, keyPrefix+sessionID, c)
	if errors.Is(err, cache.ErrMiss) {
		return &Cart{SessionID: sessionID, Items: []Item{}}, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to load cart", err)
	}
	c.SessionID = sessionID
	return c, nil
}

func (s *Service) save(ctx context.Context, c *Cart) error {
	c.UpdatedAt = s.now()
	if err := cache.SetJSON(ctx, s.cache, keyPrefix+c.SessionID, c, s.ttl); err != nil {
		return errors.Internal("failed to save cart", err)
	}
	return nil
}

// Get returns the cart of sessionID; unknown sessions have an empty cart.
func (s *Service) Get(ctx context.Context, sessionID string) (*Cart, error) {
	if sessionID == "" {
		return &Cart{Items: []Item{}}, nil
	}
	return s.load(ctx, sessionID)
}

func (s *Service) unitPrice(ctx context.Context, p *domain.Product) decimal.Decimal {
	if s.pricer == nil {
		return p.Price
	}
	price, _, err := s.pricer.PriceFor(ctx, p, s.now())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("product_id", p.ID).Warn("promotion pricing failed, using list price")
		return p.Price
	}
	return price
}

// Add puts qty units of productID in the cart, merging with an existing
// line. qty ≤ 0 adds one. The line quantity never exceeds the stock.
func (s *Service) Add(ctx context.Context, sessionID, productID string, qty int) (*Cart, error) {
	if productID == "" {
		return nil, errors.MissingParameter("product_id")
	}
	if qty <= 0 {
		qty = 1
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, commonservice.StoreError("product", productID, err)
	}
	if !p.IsActive {
		return nil, errors.NotFound("product", productID)
	}
	if p.Stock <= 0 {
		return nil, errors.Conflict("product is out of stock")
	}

	unlock := s.lock(sessionID)
	defer unlock()

	c, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.add(Item{
		ID:       p.ID,
		Name:     p.Name,
		Price:    s.unitPrice(ctx, p),
		MaxStock: p.Stock,
	}, qty)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.RecordCartOperation("add")
	return c, nil
}

// UpdateQuantity sets the quantity of a line, clamped to its stock. qty ≤ 0
// removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, sessionID, productID string, qty int) (*Cart, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	c, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !c.setQuantity(productID, qty) {
		return nil, errors.NotFound("cart item", productID)
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.RecordCartOperation("update")
	return c, nil
}

// Remove deletes the line of productID. Removing a missing line is a no-op.
func (s *Service) Remove(ctx context.Context, sessionID, productID string) (*Cart, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	c, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.remove(productID) {
		if err := s.save(ctx, c); err != nil {
			return nil, err
		}
	}
	s.metrics.RecordCartOperation("remove")
	return c, nil
}

// Clear empties the cart of sessionID.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.cache.Delete(ctx, keyPrefix+sessionID); err != nil {
		return errors.Internal("failed to clear cart", err)
	}
	s.metrics.RecordCartOperation("clear")
	return nil
}

// RegisterPurge schedules removal of expired carts when the cache is the
// in-process one. Redis expires keys on its own.
func (s *Service) RegisterPurge(sched *scheduler.Scheduler, schedule string) error {
	mem, ok := s.cache.(*cache.Memory)
	if !ok {
		return nil
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	return sched.Add(PurgeJob, schedule, func(ctx context.Context) error {
		n, err := mem.Purge(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.WithContext(ctx).WithField("count", n).Debug("expired cache entries purged")
		}
		return nil
	})
}
