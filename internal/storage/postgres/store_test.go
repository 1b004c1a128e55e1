package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
	"github.com/R3E-Network/storefront/internal/storage"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(sqlx.NewDb(db, "postgres"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var productCols = []string{"id", "name", "description", "price", "stock", "category_id", "image_url", "is_active", "created_at", "updated_at"}

func TestGetProduct(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE id = $1`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow("p1", "Arroz con pollo", nil, "18000.00", 4, "c1", nil, true, fixedNow, fixedNow))

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Arroz con pollo", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(18000)))
	require.NotNil(t, p.CategoryID)
	assert.Equal(t, "c1", *p.CategoryID)
	assert.Nil(t, p.Description)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM products WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(productCols))

	_, err = s.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`FROM products WHERE is_active = TRUE AND stock > 0 AND category_id = $1 AND (name ILIKE $2 OR description ILIKE $2) ORDER BY created_at DESC LIMIT $3`)).
		WithArgs("c1", `%50\%%`, 5).
		WillReturnRows(sqlmock.NewRows(productCols))

	out, err := s.ListProducts(context.Background(), domain.ProductFilter{
		ActiveOnly:  true,
		InStockOnly: true,
		CategoryID:  "c1",
		Search:      " 50% ",
		Limit:       5,
	})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM products WHERE id = $1`)).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderWritesItemsInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	productID := "p1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO order_items`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), productID, "Arroz", 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := s.CreateOrder(context.Background(), &domain.Order{
		CustomerName:  "Ana",
		PaymentMethod: domain.PaymentCash,
		Status:        domain.OrderPending,
		TotalAmount:   decimal.NewFromInt(20),
		Items: []domain.OrderItem{
			{ProductID: &productID, ProductName: "Arroz", Quantity: 2, UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(20)},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, fixedNow, order.CreatedAt)
	require.Len(t, order.Items, 1)
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderDuplicateSessionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	session := "cs_dup"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := s.CreateOrder(context.Background(), &domain.Order{StripeSessionID: &session})
	assert.ErrorIs(t, err, storage.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTrackingWritesOnlyPatchedColumns(t *testing.T) {
	s, mock := newMockStore(t)
	cancelled := domain.TrackingCancelled

	cols := []string{"id", "order_id", "delivery_person_name", "delivery_person_phone", "current_latitude",
		"current_longitude", "customer_latitude", "customer_longitude", "estimated_arrival_time", "status", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE delivery_tracking SET status = $2, estimated_arrival_time = NULL, updated_at = $3 WHERE id = $1`)).
		WithArgs("t1", "cancelled", fixedNow).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("t1", "o1", nil, nil, 4.6, -74.1, nil, nil, nil, "cancelled", fixedNow, fixedNow))

	tr, err := s.UpdateTracking(context.Background(), "t1", domain.TrackingPatch{Status: &cancelled, ClearETA: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingCancelled, tr.Status)
	require.NotNil(t, tr.CurrentLatitude)
	assert.InDelta(t, 4.6, *tr.CurrentLatitude, 1e-9)
	assert.Nil(t, tr.EstimatedArrivalTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE promotions SET is_active = FALSE`)).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.DeactivateExpired(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRolesRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM user_roles WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_roles`)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := s.ReplaceRoles(context.Background(), "u1", []domain.Role{domain.RoleAdmin}, "u0")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProfileRemovesRolesInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM user_roles WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM profiles WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteProfile(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProfileMissingRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM user_roles WHERE user_id = $1`)).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM profiles WHERE user_id = $1`)).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeleteProfile(context.Background(), "nope"), storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRole(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT user_id) FROM user_roles WHERE role = $1`)).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountRole(context.Background(), domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMapErr(t *testing.T) {
	assert.Nil(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(&pq.Error{Code: "23503"}), storage.ErrNotFound)
	assert.ErrorIs(t, mapErr(&pq.Error{Code: "23505"}), storage.ErrConflict)
	other := errors.New("other")
	assert.Equal(t, other, mapErr(other))
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()

	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, migrations.Apply(ctx, store.DB().DB))

	cat, err := store.CreateCategory(ctx, &domain.Category{Name: "Integration " + time.Now().Format(time.RFC3339Nano)})
	require.NoError(t, err)
	product, err := store.CreateProduct(ctx, &domain.Product{
		Name: "Arroz", Price: decimal.NewFromInt(12000), Stock: 3, IsActive: true, CategoryID: &cat.ID,
	})
	require.NoError(t, err)

	order, err := store.CreateOrder(ctx, &domain.Order{
		CustomerName: "Ana", CustomerEmail: "ana@example.com", CustomerPhone: "300", DeliveryAddress: "Calle 1",
		OrderType: domain.OrderTypeDelivery, PaymentMethod: domain.PaymentCash, Status: domain.OrderPending,
		TotalAmount: decimal.NewFromInt(12000),
		Items: []domain.OrderItem{{ProductID: &product.ID, ProductName: product.Name, Quantity: 1,
			UnitPrice: product.Price, TotalPrice: product.Price}},
	})
	require.NoError(t, err)

	tr, err := store.CreateTracking(ctx, &domain.DeliveryTracking{OrderID: order.ID})
	require.NoError(t, err)
	onRoute := domain.TrackingOnRoute
	eta := time.Now().UTC().Add(domain.EstimatedTravelTime)
	tr, err = store.UpdateTracking(ctx, tr.ID, domain.TrackingPatch{Status: &onRoute, EstimatedArrivalTime: &eta})
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingOnRoute, tr.Status)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
}
