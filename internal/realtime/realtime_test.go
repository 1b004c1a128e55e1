package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/supabase/client"
)

func newTestHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	h := NewHub(Options{
		Buffer:  buffer,
		Logger:  logging.NewWithOutput("test", "error", "json", &bytes.Buffer{}),
		Metrics: metrics.New(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubFiltersByOrder(t *testing.T) {
	h := newTestHub(t, 4)
	all := h.Subscribe(Filter{})
	one := h.Subscribe(Filter{OrderID: "o-1"})
	defer all.Close()
	defer one.Close()

	h.Publish(Event{Event: "UPDATE", ID: "t-2", OrderID: "o-2", Status: "on_route"})
	h.Publish(Event{Event: "UPDATE", ID: "t-1", OrderID: "o-1", Status: "picked_up"})

	assert.Equal(t, "o-2", receive(t, all).OrderID)
	got := receive(t, all)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, TrackingTable, got.Table)
	assert.False(t, got.At.IsZero())

	e := receive(t, one)
	assert.Equal(t, "t-1", e.ID)
	assert.Equal(t, "picked_up", e.Status)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := newTestHub(t, 1)
	slow := h.Subscribe(Filter{})

	for i := 0; i < 5; i++ {
		h.Publish(Event{ID: "t", OrderID: "o", Status: "on_route"})
	}

	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
	// Buffered events drain, then the channel reports closed.
	for range slow.Events() {
	}
	slow.Close()
}

func TestHubRunClosesSubscriptionsOnShutdown(t *testing.T) {
	h := NewHub(Options{Logger: logging.NewWithOutput("test", "error", "json", &bytes.Buffer{})})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	s := h.Subscribe(Filter{})
	cancel()
	<-done

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestParseNotification(t *testing.T) {
	e, err := ParseNotification(`{"event":"UPDATE","table":"delivery_tracking","id":"t-1","order_id":"o-1","status":"delivered"}`)
	require.NoError(t, err)
	assert.Equal(t, Event{Event: "UPDATE", Table: "delivery_tracking", ID: "t-1", OrderID: "o-1", Status: "delivered"}, e)

	_, err = ParseNotification(`{"event":"UPDATE"}`)
	assert.Error(t, err)
	_, err = ParseNotification(`not json`)
	assert.Error(t, err)
}

func TestChangeEventUsesOldRecordForDeletes(t *testing.T) {
	e := ChangeEvent(&client.PostgresChange{
		Type:      "DELETE",
		Table:     "delivery_tracking",
		OldRecord: map[string]any{"id": "t-9", "order_id": "o-9", "status": "cancelled"},
	})
	assert.Equal(t, "DELETE", e.Event)
	assert.Equal(t, "t-9", e.ID)
	assert.Equal(t, "o-9", e.OrderID)
	assert.Equal(t, "cancelled", e.Status)
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tracking" + query
}

func TestServeWSStreamsOrderEvents(t *testing.T) {
	h := newTestHub(t, 8)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?order_id=o-1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, "o-1", hello["order_id"])

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Publish(Event{Event: "UPDATE", ID: "t-2", OrderID: "o-2", Status: "assigned"})
	h.Publish(Event{Event: "UPDATE", ID: "t-1", OrderID: "o-1", Status: "on_route"})

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var change map[string]any
	require.NoError(t, json.Unmarshal(raw, &change))
	assert.Equal(t, "change", change["type"])
	assert.Equal(t, "t-1", change["id"])
	assert.Equal(t, "on_route", change["status"])
}

func TestServeWSRequiresStaffWithoutOrder(t *testing.T) {
	h := newTestHub(t, 8)

	req := httptest.NewRequest(http.MethodGet, "/ws/tracking", nil)
	rec := httptest.NewRecorder()
	h.ServeWS(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ctx := logging.WithUserID(context.Background(), "u-1")
	ctx = logging.WithRoles(ctx, []string{"customer"})
	rec = httptest.NewRecorder()
	h.ServeWS(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeWSRejectsUnknownOrigin(t *testing.T) {
	h := NewHub(Options{
		AllowedOrigins: []string{"http://shop.example"},
		Logger:         logging.NewWithOutput("test", "error", "json", &bytes.Buffer{}),
	})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?order_id=o-1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
