package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/internal/storage/memory"
	"github.com/R3E-Network/storefront/services/cart"
	"github.com/R3E-Network/storefront/services/catalog"
	"github.com/R3E-Network/storefront/services/checkout"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
	"github.com/R3E-Network/storefront/services/promotions"
	"github.com/R3E-Network/storefront/services/tracking"
	"github.com/R3E-Network/storefront/services/users"
)

const routerSecret = "router-test-secret"

type fixture struct {
	router *Router
	store  *memory.Store
	auth   *users.LocalAuth
}

func newFixture(t *testing.T, auditPath string) *fixture {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	hub := realtime.NewHub(realtime.Options{})
	auth := users.NewLocalAuth(routerSecret, users.WithBcryptCost(bcrypt.MinCost))

	cat := catalog.New(catalog.Config{Store: store})
	promos := promotions.New(promotions.Config{Store: store, Metrics: m})
	carts := cart.New(cart.Config{Products: store, Pricer: promos, Metrics: m})

	rt, err := New(Config{
		Base: commonservice.NewBase(commonservice.BaseConfig{
			Name:         ServiceName,
			Version:      "test",
			Dependencies: map[string]commonservice.Pinger{"store": store},
		}),
		Metrics:    m,
		Catalog:    cat,
		Promotions: promos,
		Cart:       carts,
		Checkout: checkout.New(checkout.Config{
			Store: store, Carts: carts, Pricer: promos, Publisher: hub, Metrics: m,
		}),
		Tracking:       tracking.New(tracking.Config{Store: store, Publisher: hub, Metrics: m}),
		Users:          users.New(users.Config{Store: store, Auth: auth}),
		Hub:            hub,
		TokenSecret:    routerSecret,
		Roles:          storage.RoleResolver{Users: store},
		AllowedOrigins: []string{"https://shop.example.com"},
		Limiter:        middleware.NewRateLimiter(1000, 1000, logging.Default()),
		AuditLogPath:   auditPath,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return &fixture{router: rt, store: store, auth: auth}
}

// token registers an account with roles and returns its access token.
func (f *fixture) token(t *testing.T, email string, roles ...domain.Role) string {
	t.Helper()
	ctx := context.Background()
	acct, err := f.auth.CreateUser(ctx, email, "secret123", nil)
	require.NoError(t, err)
	_, err = f.store.CreateProfile(ctx, &domain.UserProfile{UserID: acct.ID, IsActive: true})
	require.NoError(t, err)
	if len(roles) > 0 {
		_, err = f.store.ReplaceRoles(ctx, acct.ID, roles, "")
		require.NoError(t, err)
	}
	tok, err := f.auth.SignIn(ctx, email, "secret123")
	require.NoError(t, err)
	return tok.AccessToken
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthAndInfo(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health commonservice.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "up", health.Storage["store"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	rec = f.do(http.MethodGet, "/info", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_PublicCatalog(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.store.CreateProduct(context.Background(), &domain.Product{
		Name: "Bandeja paisa", Price: decimal.NewFromInt(32000), Stock: 5, IsActive: true,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bandeja paisa")
}

func TestRouter_AdminAccess(t *testing.T) {
	f := newFixture(t, "")
	customer := f.token(t, "customer@example.com", domain.RoleUser)
	admin := f.token(t, "admin@example.com", domain.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/products", "", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/admin/products", customer, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/admin/products", admin, "").Code)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/products", "not-a-jwt", "").Code)
}

func TestRouter_StaffAndCustomerGroups(t *testing.T) {
	f := newFixture(t, "")
	courier := f.token(t, "courier@example.com", domain.RoleDeliveryPerson)
	customer := f.token(t, "buyer@example.com", domain.RoleUser)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/deliveries", courier, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/deliveries", customer, "").Code)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/me/orders", "", "").Code)
	rec := f.do(http.MethodGet, "/api/me/orders", customer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/cart/items", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Cart-Session")

	req = httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodGet, "/api/categories", "", "")

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http")
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRouter_TraceIDPropagated(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Trace-ID"))
}

func TestRouter_AuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f := newFixture(t, path)
	admin := f.token(t, "admin@example.com", domain.RoleAdmin)

	rec := f.do(http.MethodPost, "/api/admin/categories", admin, `{"name":"Bebidas"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f.do(http.MethodGet, "/api/admin/categories", admin, "")

	rec = f.do(http.MethodGet, "/api/admin/audit", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []auditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, http.MethodPost, entries[0].Method)
	assert.Equal(t, "/api/admin/categories", entries[0].Path)
	assert.Equal(t, http.StatusCreated, entries[0].Status)
	assert.NotEmpty(t, entries[0].User)
	assert.NotEmpty(t, entries[0].TraceID)

	require.NoError(t, f.router.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"path":"/api/admin/categories"`)
}
