package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/storage"
)

func tickingStore() *Store {
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	s.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})
	return s
}

func TestProducts_ListNewestFirstAndFilter(t *testing.T) {
	ctx := context.Background()
	s := tickingStore()

	_, err := s.CreateProduct(ctx, &domain.Product{Name: "Arroz con pollo", Price: decimal.NewFromInt(18000), Stock: 5, IsActive: true})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, &domain.Product{Name: "Bandeja", Price: decimal.NewFromInt(25000), Stock: 0, IsActive: true})
	require.NoError(t, err)
	third, err := s.CreateProduct(ctx, &domain.Product{Name: "Arroz chino", Price: decimal.NewFromInt(16000), Stock: 2, IsActive: true})
	require.NoError(t, err)

	all, err := s.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)

	storefront, err := s.ListProducts(ctx, domain.StorefrontFilter())
	require.NoError(t, err)
	assert.Len(t, storefront, 2)

	found, err := s.FindProductByName(ctx, "arroz", true)
	require.NoError(t, err)
	assert.Equal(t, "Arroz con pollo", found.Name)

	_, err = s.FindProductByName(ctx, "arroz", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProducts_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	p, err := s.CreateProduct(ctx, &domain.Product{Name: "Sopa", Stock: 1, IsActive: true})
	require.NoError(t, err)

	p.Name = "changed"
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sopa", got.Name)
}

func TestCategories_DeleteUncategorisesProducts(t *testing.T) {
	ctx := context.Background()
	s := New()
	cat, err := s.CreateCategory(ctx, &domain.Category{Name: "Sopas"})
	require.NoError(t, err)

	_, err = s.CreateCategory(ctx, &domain.Category{Name: "sopas"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	p, err := s.CreateProduct(ctx, &domain.Product{Name: "Ajiaco", CategoryID: &cat.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCategory(ctx, cat.ID))
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
}

func TestPromotions_DeactivateExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	pct := 10

	_, err := s.CreatePromotion(ctx, &domain.Promotion{Title: "old", IsActive: true, DiscountPercentage: &pct,
		StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-24 * time.Hour)})
	require.NoError(t, err)
	_, err = s.CreatePromotion(ctx, &domain.Promotion{Title: "live", IsActive: true, DiscountPercentage: &pct,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour)})
	require.NoError(t, err)

	n, err := s.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := s.ListPromotions(ctx, true, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].Title)
}

func TestOrders_CreateWithItemsAndSessionLookup(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := "cs_test_1"

	order, err := s.CreateOrder(ctx, &domain.Order{
		CustomerName:    "Ana",
		Status:          domain.OrderConfirmed,
		PaymentMethod:   domain.PaymentStripe,
		StripeSessionID: &session,
		Items: []domain.OrderItem{
			{ProductName: "Arroz", Quantity: 2, UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(20)},
		},
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, order.ID, order.Items[0].OrderID)

	again, err := s.GetOrderBySession(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)

	_, err = s.CreateOrder(ctx, &domain.Order{StripeSessionID: &session})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestTracking_PatchAndActiveList(t *testing.T) {
	ctx := context.Background()
	s := New()
	order, err := s.CreateOrder(ctx, &domain.Order{CustomerName: "Ana"})
	require.NoError(t, err)

	tr, err := s.CreateTracking(ctx, &domain.DeliveryTracking{OrderID: order.ID, Status: domain.TrackingAssigned})
	require.NoError(t, err)

	_, err = s.CreateTracking(ctx, &domain.DeliveryTracking{OrderID: order.ID, Status: domain.TrackingAssigned})
	assert.ErrorIs(t, err, storage.ErrConflict)

	delivered := domain.TrackingDelivered
	_, err = s.UpdateTracking(ctx, tr.ID, domain.TrackingPatch{Status: &delivered})
	require.NoError(t, err)

	active, err := s.ListTracking(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListTracking(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUsers_ReplaceRolesAndCount(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.ReplaceRoles(ctx, "u1", []domain.Role{domain.RoleAdmin, domain.RoleCook}, "boot")
	require.NoError(t, err)
	_, err = s.ReplaceRoles(ctx, "u2", []domain.Role{domain.RoleCustomer}, "u1")
	require.NoError(t, err)

	n, err := s.CountRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ReplaceRoles(ctx, "u1", []domain.Role{domain.RoleUser}, "u1")
	require.NoError(t, err)
	n, err = s.CountRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Zero(t, n)

	roles, err := storage.RoleResolver{Users: s}.RolesForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, roles)
}

func TestUsers_DeleteProfileDropsRoles(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateProfile(ctx, &domain.UserProfile{UserID: "u1", FullName: "Ana", IsActive: true})
	require.NoError(t, err)
	_, err = s.ReplaceRoles(ctx, "u1", []domain.Role{domain.RoleAdmin}, "boot")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, "u1"))
	_, err = s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	roles, err := s.ListRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, roles)

	assert.ErrorIs(t, s.DeleteProfile(ctx, "u1"), storage.ErrNotFound)
}

func TestViews_TopViewed(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.CreateProduct(ctx, &domain.Product{Name: "a"})
	b, _ := s.CreateProduct(ctx, &domain.Product{Name: "b"})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordView(ctx, &domain.ProductView{ProductID: b.ID, SessionID: "s"}))
	}
	require.NoError(t, s.RecordView(ctx, &domain.ProductView{ProductID: a.ID, SessionID: "s"}))
	assert.ErrorIs(t, s.RecordView(ctx, &domain.ProductView{ProductID: "missing"}), storage.ErrNotFound)

	top, err := s.TopViewed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, b.ID, top[0].ProductID)
	assert.Equal(t, 3, top[0].Views)
}
