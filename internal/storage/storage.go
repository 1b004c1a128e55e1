// Package storage defines the persistence interfaces of the storefront.
// Backends live in the memory, postgres and supabase subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/storefront/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness rule.
var ErrConflict = errors.New("conflict")

// ProductStore persists products.
type ProductStore interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string, contains bool) (*domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	SetProductImage(ctx context.Context, id, url string) error
}

// CategoryStore persists categories.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	SetCategoryImage(ctx context.Context, id, url string) error
}

// PromotionStore persists promotions with their product and category links.
type PromotionStore interface {
	ListPromotions(ctx context.Context, activeOnly bool, now time.Time) ([]domain.Promotion, error)
	GetPromotion(ctx context.Context, id string) (*domain.Promotion, error)
	CreatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error)
	UpdatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error)
	DeletePromotion(ctx context.Context, id string) error
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// OrderStore persists orders and their items.
type OrderStore interface {
	// CreateOrder stores the order and its items atomically.
	CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, eta *time.Time) (*domain.Order, error)
}

// TrackingStore persists delivery tracking rows.
type TrackingStore interface {
	CreateTracking(ctx context.Context, t *domain.DeliveryTracking) (*domain.DeliveryTracking, error)
	GetTracking(ctx context.Context, id string) (*domain.DeliveryTracking, error)
	GetTrackingByOrder(ctx context.Context, orderID string) (*domain.DeliveryTracking, error)
	ListTracking(ctx context.Context, activeOnly bool) ([]domain.DeliveryTracking, error)
	UpdateTracking(ctx context.Context, id string, patch domain.TrackingPatch) (*domain.DeliveryTracking, error)
}

// UserStore persists profiles and role grants.
type UserStore interface {
	ListProfiles(ctx context.Context) ([]domain.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	CreateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error)
	UpdateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error)
	// DeleteProfile removes the profile of userID together with its role
	// grants. ErrNotFound when no profile exists.
	DeleteProfile(ctx context.Context, userID string) error
	ListRoles(ctx context.Context, userID string) ([]domain.UserRole, error)
	// ReplaceRoles deletes every grant of userID and inserts roles.
	ReplaceRoles(ctx context.Context, userID string, roles []domain.Role, createdBy string) ([]domain.UserRole, error)
	CountRole(ctx context.Context, role domain.Role) (int, error)
}

// ViewStore records product views.
type ViewStore interface {
	RecordView(ctx context.Context, v *domain.ProductView) error
	CountViews(ctx context.Context, productID string) (int, error)
	TopViewed(ctx context.Context, limit int) ([]domain.ViewCount, error)
}

// Store aggregates every store of a backend.
type Store interface {
	ProductStore
	CategoryStore
	PromotionStore
	OrderStore
	TrackingStore
	UserStore
	ViewStore

	Ping(ctx context.Context) error
	Close() error
}

// RoleResolver adapts a UserStore to the auth middleware.
type RoleResolver struct {
	Users UserStore
}

// RolesForUser returns the role names granted to userID.
func (r RoleResolver) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	roles, err := r.Users.ListRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, string(role.Role))
	}
	return out, nil
}
