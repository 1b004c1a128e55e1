package promotions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/domain"
	svcerrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/scheduler"
	"github.com/R3E-Network/storefront/internal/storage/memory"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store, *metrics.Metrics) {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	svc := New(Config{Store: store, Metrics: m})
	svc.now = func() time.Time { return base }
	return svc, store, m
}

func pct(v int) *int { return &v }

func promo(title string, start, end time.Time) domain.Promotion {
	return domain.Promotion{
		Title:              title,
		DiscountPercentage: pct(10),
		StartDate:          start,
		EndDate:            end,
		IsActive:           true,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p := promo("Both", base, base.Add(time.Hour))
	amount := decimal.NewFromInt(500)
	p.DiscountAmount = &amount
	_, err := svc.Create(ctx, p)
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))

	_, err = svc.Create(ctx, promo("Backwards", base, base.Add(-time.Hour)))
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))

	created, err := svc.Create(ctx, promo("Ok", base, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{}, created.ProductIDs)
}

func TestListActiveWindow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, promo("Running", base.Add(-time.Hour), base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = svc.Create(ctx, promo("Future", base.Add(time.Hour), base.Add(2*time.Hour)))
	require.NoError(t, err)
	off := promo("Off", base.Add(-time.Hour), base.Add(time.Hour))
	off.IsActive = false
	_, err = svc.Create(ctx, off)
	require.NoError(t, err)

	active, err := svc.ListActive(ctx, base)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Running", active[0].Title)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeactivateExpiredRecordsMetric(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, promo("Ended", base.Add(-2*time.Hour), base.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = svc.Create(ctx, promo("Running", base.Add(-time.Hour), base.Add(time.Hour)))
	require.NoError(t, err)

	n, err := svc.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "storefront_promotions_expired_total 1\n")
}

func TestRegisterSweeper(t *testing.T) {
	svc, _, _ := newTestService(t)
	sched := scheduler.New(nil, time.Second)
	defer sched.Stop()

	require.NoError(t, svc.RegisterSweeper(sched, ""))
	assert.Contains(t, sched.Jobs(), SweepJob)
	assert.Error(t, svc.RegisterSweeper(sched, "@every 1m"))
}

func TestPriceFor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cat := "cat-1"
	product := &domain.Product{ID: "p-1", Price: decimal.NewFromInt(10000), CategoryID: &cat}

	price, applied, err := svc.PriceFor(ctx, product, base)
	require.NoError(t, err)
	assert.Nil(t, applied)
	assert.True(t, price.Equal(decimal.NewFromInt(10000)))

	byCategory := promo("Category", base.Add(-time.Hour), base.Add(time.Hour))
	byCategory.CategoryIDs = []string{cat}
	_, err = svc.Create(ctx, byCategory)
	require.NoError(t, err)

	amount := decimal.NewFromInt(3000)
	byProduct := promo("Product", base.Add(-time.Hour), base.Add(time.Hour))
	byProduct.DiscountPercentage = nil
	byProduct.DiscountAmount = &amount
	byProduct.ProductIDs = []string{"p-1"}
	_, err = svc.Create(ctx, byProduct)
	require.NoError(t, err)

	price, applied, err = svc.PriceFor(ctx, product, base)
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.Equal(t, "Product", applied.Title)
	assert.True(t, price.Equal(decimal.NewFromInt(7000)), price.String())
}

func TestHandlers(t *testing.T) {
	svc, _, _ := newTestService(t)
	router := mux.NewRouter()
	svc.RegisterRoutes(router)
	svc.RegisterAdminRoutes(router.PathPrefix("/admin").Subrouter())

	body := `{"title":"2x1","discount_percentage":50,"start_date":"2026-03-01T00:00:00Z","end_date":"2026-03-02T00:00:00Z","is_active":true}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/promotions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/promotions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"2x1"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/promotions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
