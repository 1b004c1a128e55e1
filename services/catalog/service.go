// Package catalog serves the storefront catalog and its back-office CRUD.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/cache"
	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/storage"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const (
	ServiceName = "catalog"

	cachePrefix     = "catalog:"
	defaultCacheTTL = 60 * time.Second
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListParams narrows a public listing.
type ListParams struct {
	Category string
	Limit    int
	Offset   int
}

func (p ListParams) normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	p.Category = strings.TrimSpace(p.Category)
	return p
}

// TopProduct is a product with its view count.
type TopProduct struct {
	Product domain.Product `json:"product"`
	Views   int            `json:"views"`
}

// Config configures the catalog service.
type Config struct {
	Store    storage.Store
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *logging.Logger
}

// Service implements catalog reads and admin writes.
type Service struct {
	store    storage.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// New creates the catalog service.
func New(cfg Config) *Service {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:    cfg.Store,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// cached loads key from the cache or computes and stores it. Cache failures
// are logged and never fail the read.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	var out T
	err := cache.GetJSON(ctx, s.cache, cachePrefix+key, &out)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.WithContext(ctx).WithError(err).Warn("catalog cache read failed")
	}

	out, err = load()
	if err != nil {
		return out, err
	}
	if err := cache.SetJSON(ctx, s.cache, cachePrefix+key, out, s.cacheTTL); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("catalog cache write failed")
	}
	return out, nil
}

// Invalidate drops every cached listing.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, cachePrefix); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("catalog cache invalidation failed")
	}
}

// =============================================================================
// Public reads
// =============================================================================

// ListProducts returns active, in-stock products, newest first, optionally
// restricted to a category name.
func (s *Service) ListProducts(ctx context.Context, params ListParams) ([]domain.Product, error) {
	params = params.normalize()
	if params.Category != "" {
		return s.ProductsByCategory(ctx, params.Category, params)
	}
	key := fmt.Sprintf("products:all:%d:%d", params.Limit, params.Offset)
	return cached(ctx, s, key, func() ([]domain.Product, error) {
		filter := domain.StorefrontFilter()
		filter.Limit, filter.Offset = params.Limit, params.Offset
		products, err := s.store.ListProducts(ctx, filter)
		return products, commonservice.StoreError("products", "", err)
	})
}

// SearchProducts matches q against product names and descriptions.
func (s *Service) SearchProducts(ctx context.Context, q string, params ListParams) ([]domain.Product, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.MissingParameter("q")
	}
	params = params.normalize()
	filter := domain.StorefrontFilter()
	filter.Search = q
	filter.Limit, filter.Offset = params.Limit, params.Offset
	if params.Category != "" {
		cat, err := s.categoryByName(ctx, params.Category)
		if err != nil {
			return nil, err
		}
		filter.CategoryID = cat.ID
	}
	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, commonservice.StoreError("products", "", err)
	}
	return products, nil
}

func (s *Service) categoryByName(ctx context.Context, name string) (*domain.Category, error) {
	cat, err := s.store.GetCategoryByName(ctx, name)
	if err != nil {
		return nil, commonservice.StoreError("category", name, err)
	}
	return cat, nil
}

// ProductsByCategory lists the storefront products of the named category.
func (s *Service) ProductsByCategory(ctx context.Context, name string, params ListParams) ([]domain.Product, error) {
	params = params.normalize()
	name = strings.TrimSpace(name)
	key := fmt.Sprintf("products:category:%s:%d:%d", strings.ToLower(name), params.Limit, params.Offset)
	return cached(ctx, s, key, func() ([]domain.Product, error) {
		cat, err := s.categoryByName(ctx, name)
		if err != nil {
			return nil, err
		}
		filter := domain.StorefrontFilter()
		filter.CategoryID = cat.ID
		filter.Limit, filter.Offset = params.Limit, params.Offset
		products, err := s.store.ListProducts(ctx, filter)
		return products, commonservice.StoreError("products", "", err)
	})
}

// GetProduct returns an active product.
func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("product", id, err)
	}
	if !p.IsActive {
		return nil, errors.NotFound("product", id)
	}
	return p, nil
}

// RecordView stores a product view for the analytics panel.
func (s *Service) RecordView(ctx context.Context, productID, userID, sessionID string) error {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return commonservice.StoreError("product", productID, err)
	}
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	view := &domain.ProductView{
		ProductID: productID,
		UserID:    domain.StringPtr(userID),
		SessionID: sessionID,
		ViewedAt:  s.now(),
	}
	if err := s.store.RecordView(ctx, view); err != nil {
		return commonservice.StoreError("product", productID, err)
	}
	return nil
}

// TopViewed returns the most viewed products. Products deleted since their
// views were recorded are skipped.
func (s *Service) TopViewed(ctx context.Context, limit int) ([]TopProduct, error) {
	counts, err := s.store.TopViewed(ctx, limit)
	if err != nil {
		return nil, commonservice.StoreError("product views", "", err)
	}
	out := make([]TopProduct, 0, len(counts))
	for _, c := range counts {
		p, err := s.store.GetProduct(ctx, c.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, commonservice.StoreError("product", c.ProductID, err)
		}
		out = append(out, TopProduct{Product: *p, Views: c.Views})
	}
	return out, nil
}

// ListCategories returns every category by name.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return cached(ctx, s, "categories", func() ([]domain.Category, error) {
		cats, err := s.store.ListCategories(ctx)
		return cats, commonservice.StoreError("categories", "", err)
	})
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("category", id, err)
	}
	return c, nil
}

// =============================================================================
// Admin
// =============================================================================

// AdminListProducts lists every product, including inactive and sold-out ones.
func (s *Service) AdminListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, commonservice.StoreError("products", "", err)
	}
	return products, nil
}

// AdminGetProduct returns a product whatever its state.
func (s *Service) AdminGetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("product", id, err)
	}
	return p, nil
}

func (s *Service) checkCategory(ctx context.Context, id *string) error {
	if id == nil {
		return nil
	}
	if _, err := s.store.GetCategory(ctx, *id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Validation(domain.NewValidationError("category_id", "does not exist"))
		}
		return commonservice.StoreError("category", *id, err)
	}
	return nil
}

// CreateProduct validates and stores a new product.
func (s *Service) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	if err := s.checkCategory(ctx, p.CategoryID); err != nil {
		return nil, err
	}
	created, err := s.store.CreateProduct(ctx, &p)
	if err != nil {
		return nil, commonservice.StoreError("product", "", err)
	}
	s.Invalidate(ctx)
	s.logger.WithContext(ctx).WithField("product_id", created.ID).Info("product created")
	return created, nil
}

// UpdateProduct replaces the editable fields of product id.
func (s *Service) UpdateProduct(ctx context.Context, id string, p domain.Product) (*domain.Product, error) {
	p.ID = id
	if err := p.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	if err := s.checkCategory(ctx, p.CategoryID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateProduct(ctx, &p)
	if err != nil {
		return nil, commonservice.StoreError("product", id, err)
	}
	s.Invalidate(ctx)
	return updated, nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return commonservice.StoreError("product", id, err)
	}
	s.Invalidate(ctx)
	s.logger.WithContext(ctx).WithField("product_id", id).Info("product deleted")
	return nil
}

// FindProduct returns the oldest product named name, or whose name contains
// it when contains is set. Matching ignores case.
func (s *Service) FindProduct(ctx context.Context, name string, contains bool) (*domain.Product, error) {
	p, err := s.store.FindProductByName(ctx, name, contains)
	if err != nil {
		return nil, commonservice.StoreError("product", name, err)
	}
	return p, nil
}

// SetProductImage points a product at a new image.
func (s *Service) SetProductImage(ctx context.Context, id, url string) error {
	if err := s.store.SetProductImage(ctx, id, url); err != nil {
		return commonservice.StoreError("product", id, err)
	}
	s.Invalidate(ctx)
	return nil
}

// CreateCategory validates and stores a new category.
func (s *Service) CreateCategory(ctx context.Context, c domain.Category) (*domain.Category, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	created, err := s.store.CreateCategory(ctx, &c)
	if err != nil {
		return nil, commonservice.StoreError("category", "", err)
	}
	s.Invalidate(ctx)
	return created, nil
}

// UpdateCategory replaces the editable fields of category id.
func (s *Service) UpdateCategory(ctx context.Context, id string, c domain.Category) (*domain.Category, error) {
	c.ID = id
	if err := c.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	updated, err := s.store.UpdateCategory(ctx, &c)
	if err != nil {
		return nil, commonservice.StoreError("category", id, err)
	}
	s.Invalidate(ctx)
	return updated, nil
}

// DeleteCategory removes a category. Its products keep existing without one.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return commonservice.StoreError("category", id, err)
	}
	s.Invalidate(ctx)
	return nil
}

// SetCategoryImage points a category at a new image.
func (s *Service) SetCategoryImage(ctx context.Context, id, url string) error {
	if err := s.store.SetCategoryImage(ctx, id, url); err != nil {
		return commonservice.StoreError("category", id, err)
	}
	s.Invalidate(ctx)
	return nil
}

// DashboardStats counts what the back-office landing page shows.
func (s *Service) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	all, err := s.store.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, commonservice.StoreError("products", "", err)
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, commonservice.StoreError("categories", "", err)
	}
	promos, err := s.store.ListPromotions(ctx, true, s.now())
	if err != nil {
		return nil, commonservice.StoreError("promotions", "", err)
	}
	pending, err := s.store.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderPending})
	if err != nil {
		return nil, commonservice.StoreError("orders", "", err)
	}
	deliveries, err := s.store.ListTracking(ctx, true)
	if err != nil {
		return nil, commonservice.StoreError("deliveries", "", err)
	}

	stats := &domain.DashboardStats{
		TotalProducts:    len(all),
		TotalCategories:  len(cats),
		ActivePromotions: len(promos),
		PendingOrders:    len(pending),
		ActiveDeliveries: len(deliveries),
	}
	for i := range all {
		if all[i].IsActive {
			stats.ActiveProducts++
		}
	}
	return stats, nil
}
