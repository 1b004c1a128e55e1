package tracking

import (
	"context"
	"encoding/json"
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
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/storage/memory"
)

var now = time.Date(2026, 5, 4, 19, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memory.Store
	hub   *realtime.Hub
	sub   *realtime.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	hub := realtime.NewHub(realtime.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := New(Config{Store: store, Publisher: hub})
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, store: store, hub: hub, sub: hub.Subscribe(realtime.Filter{})}
}

func (f *fixture) order(t *testing.T, status domain.OrderStatus) (*domain.Order, *domain.DeliveryTracking) {
	t.Helper()
	ctx := context.Background()
	o, err := f.store.CreateOrder(ctx, &domain.Order{
		CustomerName:    "Ana",
		CustomerPhone:   "300",
		DeliveryAddress: "Calle 1",
		TotalAmount:     decimal.NewFromInt(7000),
		Status:          status,
		PaymentMethod:   domain.PaymentCash,
		OrderType:       domain.OrderTypeDelivery,
		Items: []domain.OrderItem{{
			ProductName: "Arepa",
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(3500),
			TotalPrice:  decimal.NewFromInt(7000),
		}},
	})
	require.NoError(t, err)
	tr, err := f.store.CreateTracking(ctx, &domain.DeliveryTracking{OrderID: o.ID, Status: domain.TrackingAssigned})
	require.NoError(t, err)
	return o, tr
}

func (f *fixture) nextEvent(t *testing.T) realtime.Event {
	t.Helper()
	select {
	case e := <-f.sub.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime event")
		return realtime.Event{}
	}
}

func TestGetByOrderIncludesSummary(t *testing.T) {
	f := newFixture(t)
	o, tr := f.order(t, domain.OrderConfirmed)

	v, err := f.svc.GetByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, v.ID)
	require.NotNil(t, v.Order)
	assert.Equal(t, "7000.00", v.Order.TotalAmount)
	require.Len(t, v.Order.Items, 1)
	assert.Equal(t, 2, v.Order.Items[0].Quantity)

	_, err = f.svc.GetByOrder(context.Background(), "missing")
	assert.Equal(t, http.StatusNotFound, svcerrors.HTTPStatus(err))
}

func TestUpdateStatusSetsArrivalEstimate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, tr := f.order(t, domain.OrderReady)

	updated, err := f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingOnRoute)
	require.NoError(t, err)
	require.NotNil(t, updated.EstimatedArrivalTime)
	assert.Equal(t, now.Add(domain.EstimatedTravelTime), *updated.EstimatedArrivalTime)

	e := f.nextEvent(t)
	assert.Equal(t, o.ID, e.OrderID)
	assert.Equal(t, string(domain.TrackingOnRoute), e.Status)
	assert.Equal(t, realtime.TrackingTable, e.Table)

	updated, err = f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingPickedUp)
	require.NoError(t, err)
	assert.Nil(t, updated.EstimatedArrivalTime)

	updated, err = f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingDelivered)
	require.NoError(t, err)
	require.NotNil(t, updated.EstimatedArrivalTime)
	assert.Equal(t, now, *updated.EstimatedArrivalTime)

	order, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status)

	_, err = f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingOnRoute)
	assert.Equal(t, http.StatusConflict, svcerrors.HTTPStatus(err))
}

func TestCancelledDeliveryLeavesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, tr := f.order(t, domain.OrderPreparing)

	_, err := f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingCancelled)
	require.NoError(t, err)

	order, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPreparing, order.Status)

	_, err = f.svc.UpdateStatus(ctx, tr.ID, "teleported")
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))
}

func TestAssignAndLocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, tr := f.order(t, domain.OrderReady)

	_, err := f.svc.Assign(ctx, tr.ID, " ", "")
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))

	_, err = f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingOnRoute)
	require.NoError(t, err)
	assigned, err := f.svc.Assign(ctx, tr.ID, "Carlos", "3109876543")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackingAssigned, assigned.Status)
	assert.Equal(t, "Carlos", domain.Deref(assigned.DeliveryPersonName))
	assert.Nil(t, assigned.EstimatedArrivalTime)

	_, err = f.svc.UpdateLocation(ctx, tr.ID, domain.Coordinates{Lat: 6.25, Lng: -75.56})
	require.NoError(t, err)
	moved, err := f.svc.UpdateLocation(ctx, tr.ID, domain.Coordinates{Lat: 6.26, Lng: -75.57})
	require.NoError(t, err)
	assert.InDelta(t, 6.26, *moved.CurrentLatitude, 1e-9)

	_, err = f.svc.UpdateLocation(ctx, tr.ID, domain.Coordinates{Lat: 6.26, Lng: 200})
	assert.Equal(t, http.StatusBadRequest, svcerrors.HTTPStatus(err))

	withCustomer, err := f.svc.SetCustomerLocationByOrder(ctx, o.ID, domain.Coordinates{Lat: 6.2, Lng: -75.6})
	require.NoError(t, err)
	assert.InDelta(t, -75.6, *withCustomer.CustomerLongitude, 1e-9)

	_, err = f.svc.UpdateStatus(ctx, tr.ID, domain.TrackingDelivered)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, tr.ID, "Luisa", "")
	assert.Equal(t, http.StatusConflict, svcerrors.HTTPStatus(err))
}

func TestListDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, active := f.order(t, domain.OrderReady)
	_, done := f.order(t, domain.OrderReady)
	_, err := f.svc.UpdateStatus(ctx, done.ID, domain.TrackingDelivered)
	require.NoError(t, err)

	rows, err := f.svc.ListDeliveries(ctx, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, active.ID, rows[0].ID)
	assert.NotNil(t, rows[0].Order)

	rows, err = f.svc.ListDeliveries(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	o, tr := f.order(t, domain.OrderReady)
	router := mux.NewRouter()
	f.svc.RegisterRoutes(router)
	f.svc.RegisterDeliveryRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/deliveries/"+tr.ID+"/status", strings.NewReader(`{"status":"on_route"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+o.ID+"/tracking", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Status string `json:"status"`
		Order  struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "on_route", view.Status)
	assert.Equal(t, o.ID, view.Order.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/deliveries/"+tr.ID+"/location", strings.NewReader(`{"lat":6.2,"lng":-75.5}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/deliveries/"+tr.ID+"/assign", strings.NewReader(`{"delivery_person_name":"Carlos"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deliveries?active=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivery_person_name":"Carlos"`)
}
