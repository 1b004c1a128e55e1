// Package realtime fans delivery tracking changes out to websocket clients.
//
// Changes enter the Hub from in-process writers and from relays that watch
// the database (pq LISTEN or the BaaS realtime channel). Clients treat each
// event as a signal to re-fetch; events carry ids and status only.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
)

// TrackingTable is the table whose changes the hub carries.
const TrackingTable = "delivery_tracking"

// Event is one row change.
type Event struct {
	Event   string    `json:"event"`
	Table   string    `json:"table"`
	ID      string    `json:"id"`
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// Filter selects events for a subscriber. The zero Filter matches all.
type Filter struct {
	OrderID string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	return f.OrderID == "" || f.OrderID == e.OrderID
}

// Subscription receives matching events until closed. A subscriber that
// falls behind by more than its buffer is dropped and its channel closed.
type Subscription struct {
	ch     chan Event
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Events returns the receive channel.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes.
func (s *Subscription) Close() { s.hub.remove(s) }

// Options configures a Hub.
type Options struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// Backlog is the inbound queue length.
	Backlog        int
	AllowedOrigins []string
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
}

// Hub is a publish/subscribe fan-out of tracking events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	in     chan Event
	buffer int

	origins map[string]bool
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHub creates a Hub. Run must be started for events to flow.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		in:      make(chan Event, opts.Backlog),
		buffer:  opts.Buffer,
		origins: origins,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish queues e for delivery. It never blocks; when the backlog is full
// the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.Table == "" {
		e.Table = TrackingTable
	}
	if e.At.IsZero() {
		e.At = h.now()
	}
	select {
	case h.in <- e:
	default:
		h.logger.WithFields(map[string]interface{}{"id": e.ID, "order_id": e.OrderID}).Warn("realtime backlog full, event dropped")
	}
}

// Subscribe registers a subscriber for events matching f.
func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{ch: make(chan Event, h.buffer), filter: f, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetRealtimeSubscribers(n)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		s.once.Do(func() { close(s.ch) })
		h.metrics.SetRealtimeSubscribers(n)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run delivers queued events until ctx is done, then closes every
// subscription.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.RLock()
			subs := make([]*Subscription, 0, len(h.subs))
			for s := range h.subs {
				subs = append(subs, s)
			}
			h.mu.RUnlock()
			for _, s := range subs {
				h.remove(s)
			}
			return
		case e := <-h.in:
			h.dispatch(e)
		}
	}
}

func (h *Hub) dispatch(e Event) {
	var slow []*Subscription
	h.mu.RLock()
	for s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.WithFields(map[string]interface{}{"order_id": s.filter.OrderID}).Warn("dropping slow realtime subscriber")
		h.remove(s)
	}
}
