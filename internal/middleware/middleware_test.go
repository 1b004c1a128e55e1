package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.New("test", "error", "json"))
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/products", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimiter_SeparateKeysPerUser(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.New("test", "error", "json"))
	handler := rl.Handler(okHandler())

	for _, user := range []string{"a", "b"} {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, user)
	}
	assert.Equal(t, 2, rl.Size())
}

func TestRateLimiter_CleanupRemovesIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.New("test", "error", "json"))
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("old")

	rl.now = func() time.Time { return now.Add(time.Hour) }
	rl.getLimiter("fresh")

	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	assert.Equal(t, 1, rl.Size())
}

// =============================================================================
// CORS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	cors := NewCORSMiddleware([]string{"http://localhost:5173", ".example.com"})
	handler := cors.Handler(okHandler())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"https://shop.example.com", true},
		{"https://evil.test", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/products", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if tt.allowed {
			assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/cart/items", nil)
	req.Header.Set("Origin", "http://any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Cart-Session")
}

// =============================================================================
// Tracing, logging, recovery, metrics
// =============================================================================

func TestTracingMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(logging.New("test", "error", "json")).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Trace-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "given")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "given", seen)
}

func TestLoggingMiddleware_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithOutput("test", "info", "json", &buf)

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/brew", nil))

	assert.True(t, strings.Contains(buf.String(), `"status":418`), buf.String())
}

func TestRecovery(t *testing.T) {
	handler := Recovery(logging.New("test", "panic", "json"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New()
	router := mux.NewRouter()
	router.Use(MetricsMiddleware("storefront", m))
	router.HandleFunc("/api/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/products/abc", nil))

	count, err := testutil.GatherAndCount(m.Registry(), "storefront_http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
