// Package memory is an in-process storage backend used for local runs and
// tests. Values are copied on the way in and out so callers never share
// state with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	mu sync.RWMutex

	products   map[string]domain.Product
	categories map[string]domain.Category
	promotions map[string]domain.Promotion
	orders     map[string]domain.Order
	tracking   map[string]domain.DeliveryTracking
	profiles   map[string]domain.UserProfile // by user id
	roles      map[string][]domain.UserRole  // by user id
	views      []domain.ProductView

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		categories: make(map[string]domain.Category),
		promotions: make(map[string]domain.Promotion),
		orders:     make(map[string]domain.Order),
		tracking:   make(map[string]domain.DeliveryTracking),
		profiles:   make(map[string]domain.UserProfile),
		roles:      make(map[string][]domain.UserRole),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func newID() string { return uuid.NewString() }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ----- products -----

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		p := p
		if filter.Match(&p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindProductByName(_ context.Context, name string, contains bool) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(name)
	var matches []domain.Product
	for _, p := range s.products {
		have := strings.ToLower(p.Name)
		if have == needle || (contains && strings.Contains(have, needle)) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return &matches[0], nil
}

func (s *Store) CreateProduct(_ context.Context, p *domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *p
	if row.ID == "" {
		row.ID = newID()
	}
	if _, exists := s.products[row.ID]; exists {
		return nil, storage.ErrConflict
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	s.products[row.ID] = row
	return &row, nil
}

func (s *Store) UpdateProduct(_ context.Context, p *domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	row := *p
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = s.now()
	s.products[row.ID] = row
	return &row, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.products, id)
	for pid, promo := range s.promotions {
		promo.ProductIDs = without(promo.ProductIDs, id)
		s.promotions[pid] = promo
	}
	return nil
}

func (s *Store) SetProductImage(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.ImageURL = &url
	p.UpdatedAt = s.now()
	s.products[id] = p
	return nil
}

// ----- categories -----

func (s *Store) ListCategories(context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCategoryByName(_ context.Context, name string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if strings.EqualFold(c.Name, name) {
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CreateCategory(_ context.Context, c *domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, c.Name) {
			return nil, storage.ErrConflict
		}
	}
	row := *c
	if row.ID == "" {
		row.ID = newID()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	s.categories[row.ID] = row
	return &row, nil
}

func (s *Store) UpdateCategory(_ context.Context, c *domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[c.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for id, other := range s.categories {
		if id != c.ID && strings.EqualFold(other.Name, c.Name) {
			return nil, storage.ErrConflict
		}
	}
	row := *c
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = s.now()
	s.categories[row.ID] = row
	return &row, nil
}

// DeleteCategory removes the category; its products become uncategorised.
func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.categories, id)
	for pid, p := range s.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			p.CategoryID = nil
			s.products[pid] = p
		}
	}
	for pid, promo := range s.promotions {
		promo.CategoryIDs = without(promo.CategoryIDs, id)
		s.promotions[pid] = promo
	}
	return nil
}

func (s *Store) SetCategoryImage(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.ImageURL = &url
	c.UpdatedAt = s.now()
	s.categories[id] = c
	return nil
}

// ----- promotions -----

func clonePromotion(p domain.Promotion) domain.Promotion {
	p.ProductIDs = append([]string{}, p.ProductIDs...)
	p.CategoryIDs = append([]string{}, p.CategoryIDs...)
	return p
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) ListPromotions(_ context.Context, activeOnly bool, now time.Time) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		if activeOnly && !p.Running(now) {
			continue
		}
		out = append(out, clonePromotion(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetPromotion(_ context.Context, id string) (*domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.promotions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := clonePromotion(p)
	return &out, nil
}

func (s *Store) CreatePromotion(_ context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := clonePromotion(*p)
	if row.ID == "" {
		row.ID = newID()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	s.promotions[row.ID] = row
	out := clonePromotion(row)
	return &out, nil
}

func (s *Store) UpdatePromotion(_ context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.promotions[p.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	row := clonePromotion(*p)
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = s.now()
	s.promotions[row.ID] = row
	out := clonePromotion(row)
	return &out, nil
}

func (s *Store) DeletePromotion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.promotions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.promotions, id)
	return nil
}

func (s *Store) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, p := range s.promotions {
		if p.Expired(now) {
			p.IsActive = false
			p.UpdatedAt = s.now()
			s.promotions[id] = p
			n++
		}
	}
	return n, nil
}

// ----- orders -----

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem{}, o.Items...)
	return o
}

func (s *Store) CreateOrder(_ context.Context, o *domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.StripeSessionID != nil {
		for _, existing := range s.orders {
			if existing.StripeSessionID != nil && *existing.StripeSessionID == *o.StripeSessionID {
				return nil, storage.ErrConflict
			}
		}
	}

	row := cloneOrder(*o)
	if row.ID == "" {
		row.ID = newID()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	for i := range row.Items {
		if row.Items[i].ID == "" {
			row.Items[i].ID = newID()
		}
		row.Items[i].OrderID = row.ID
	}
	s.orders[row.ID] = row
	out := cloneOrder(row)
	return &out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) GetOrderBySession(_ context.Context, sessionID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.StripeSessionID != nil && *o.StripeSessionID == sessionID {
			out := cloneOrder(o)
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && (o.UserID == nil || *o.UserID != filter.UserID) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, 0), nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, status domain.OrderStatus, eta *time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o.Status = status
	if eta != nil {
		o.EstimatedDeliveryTime = eta
	}
	o.UpdatedAt = s.now()
	s.orders[id] = o
	out := cloneOrder(o)
	return &out, nil
}

// ----- tracking -----

func (s *Store) CreateTracking(_ context.Context, t *domain.DeliveryTracking) (*domain.DeliveryTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[t.OrderID]; !ok {
		return nil, storage.ErrNotFound
	}
	for _, existing := range s.tracking {
		if existing.OrderID == t.OrderID {
			return nil, storage.ErrConflict
		}
	}
	row := *t
	if row.ID == "" {
		row.ID = newID()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	s.tracking[row.ID] = row
	return &row, nil
}

func (s *Store) GetTracking(_ context.Context, id string) (*domain.DeliveryTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracking[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTrackingByOrder(_ context.Context, orderID string) (*domain.DeliveryTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tracking {
		if t.OrderID == orderID {
			return &t, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListTracking(_ context.Context, activeOnly bool) ([]domain.DeliveryTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeliveryTracking, 0, len(s.tracking))
	for _, t := range s.tracking {
		if activeOnly && !t.Status.Active() {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateTracking(_ context.Context, id string, patch domain.TrackingPatch) (*domain.DeliveryTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracking[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	patch.Apply(&t)
	t.UpdatedAt = s.now()
	s.tracking[id] = t
	return &t, nil
}

// ----- users -----

func (s *Store) ListProfiles(context.Context) ([]domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProfile(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.UserID]; exists {
		return nil, storage.ErrConflict
	}
	row := *p
	if row.ID == "" {
		row.ID = newID()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	s.profiles[row.UserID] = row
	return &row, nil
}

func (s *Store) UpdateProfile(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[p.UserID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	row := *p
	row.ID = existing.ID
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = s.now()
	s.profiles[row.UserID] = row
	return &row, nil
}

func (s *Store) DeleteProfile(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[userID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.profiles, userID)
	delete(s.roles, userID)
	return nil
}

func (s *Store) ListRoles(_ context.Context, userID string) ([]domain.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.UserRole{}, s.roles[userID]...), nil
}

func (s *Store) ReplaceRoles(_ context.Context, userID string, roles []domain.Role, createdBy string) ([]domain.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	grants := make([]domain.UserRole, 0, len(roles))
	for _, r := range roles {
		grants = append(grants, domain.UserRole{
			ID:        newID(),
			UserID:    userID,
			Role:      r,
			CreatedBy: domain.StringPtr(createdBy),
			CreatedAt: now,
		})
	}
	s.roles[userID] = grants
	return append([]domain.UserRole{}, grants...), nil
}

func (s *Store) CountRole(_ context.Context, role domain.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, grants := range s.roles {
		for _, g := range grants {
			if g.Role == role {
				n++
				break
			}
		}
	}
	return n, nil
}

// ----- views -----

func (s *Store) RecordView(_ context.Context, v *domain.ProductView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[v.ProductID]; !ok {
		return storage.ErrNotFound
	}
	row := *v
	if row.ID == "" {
		row.ID = newID()
	}
	if row.ViewedAt.IsZero() {
		row.ViewedAt = s.now()
	}
	s.views = append(s.views, row)
	return nil
}

func (s *Store) CountViews(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, v := range s.views {
		if v.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (s *Store) TopViewed(_ context.Context, limit int) ([]domain.ViewCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, v := range s.views {
		counts[v.ProductID]++
	}
	out := make([]domain.ViewCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.ViewCount{ProductID: id, Views: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].ProductID < out[j].ProductID
	})
	return paginate(out, limit, 0), nil
}
