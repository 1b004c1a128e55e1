package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/domain"
	svcerrors "github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/storage"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy() Pinger { return pingerFunc(func(context.Context) error { return nil }) }

func TestBaseService_Workers(t *testing.T) {
	b := NewBase(BaseConfig{Name: "test", Version: "1"})

	var ticks atomic.Int32
	started := make(chan struct{})
	b.AddWorker(func(ctx context.Context) {
		close(started)
		<-b.StopChan()
	})
	b.AddTickerWorker("tick", 5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return errors.New("logged, not fatal")
	})
	assert.Equal(t, 2, b.WorkerCount())

	require.NoError(t, b.Start(context.Background()))
	<-started
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
}

func TestBaseService_HydrateError(t *testing.T) {
	b := NewBase(BaseConfig{Name: "test"}).WithHydrate(func(context.Context) error {
		return errors.New("no schema")
	})
	assert.EqualError(t, b.Start(context.Background()), "no schema")
}

func TestBaseService_Health(t *testing.T) {
	var down atomic.Bool
	b := NewBase(BaseConfig{
		Name: "test",
		Dependencies: map[string]Pinger{
			"store": healthy(),
			"cache": pingerFunc(func(context.Context) error {
				if down.Load() {
					return errors.New("connection refused")
				}
				return nil
			}),
			"unset": nil,
		},
	})

	assert.Equal(t, "healthy", b.HealthStatus(context.Background()))
	deps := b.HealthDetails()["dependencies"].(map[string]string)
	assert.Equal(t, map[string]string{"store": "up", "cache": "up"}, deps)

	down.Store(true)
	assert.Equal(t, "unhealthy", b.HealthStatus(context.Background()))
	assert.Equal(t, "down", b.HealthDetails()["dependencies"].(map[string]string)["cache"])
}

func TestStandardRoutes(t *testing.T) {
	var down atomic.Bool
	b := NewBase(BaseConfig{
		Name:    "storefront",
		Version: "2.1.0",
		Dependencies: map[string]Pinger{"store": pingerFunc(func(context.Context) error {
			if down.Load() {
				return errors.New("timeout")
			}
			return nil
		})},
	}).WithStats(func() map[string]any { return map[string]any{"subscribers": 3} })

	r := mux.NewRouter()
	b.RegisterStandardRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "storefront", health.Service)
	assert.Equal(t, "2.1.0", health.Version)
	assert.Equal(t, "up", health.Storage["store"])
	require.NotNil(t, health.Process)
	assert.Positive(t, health.Process.Goroutines)

	down.Store(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "active", info.Status)
	assert.EqualValues(t, 3, info.Statistics["subscribers"])
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("select: %w", storage.ErrNotFound), http.StatusNotFound},
		{"conflict", storage.ErrConflict, http.StatusConflict},
		{"transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"validation", domain.NewValidationError("price", "must be positive"), http.StatusBadRequest},
		{"service error", svcerrors.Forbidden("nope"), http.StatusForbidden},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svcerrors.HTTPStatus(StoreError("product", "p1", tt.err)))
		})
	}
	assert.NoError(t, StoreError("product", "p1", nil))
}
