package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/supabase/client"
)

// Relay forwards database change notifications into a Hub until ctx ends.
type Relay interface {
	Run(ctx context.Context) error
}

// ParseNotification decodes the JSON payload written by the
// delivery_tracking notify trigger.
func ParseNotification(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode tracking notification: %w", err)
	}
	if e.ID == "" {
		return Event{}, fmt.Errorf("tracking notification without id")
	}
	if e.Table == "" {
		e.Table = TrackingTable
	}
	return e, nil
}

// PQRelay listens on the delivery_tracking channel of a Postgres database.
type PQRelay struct {
	dsn    string
	hub    *Hub
	logger *logging.Logger
}

// NewPQRelay creates a relay for the database at dsn.
func NewPQRelay(dsn string, hub *Hub, logger *logging.Logger) *PQRelay {
	if logger == nil {
		logger = logging.Default()
	}
	return &PQRelay{dsn: dsn, hub: hub, logger: logger}
}

// Run blocks until ctx is done. pq.Listener reconnects on its own; the idle
// ping detects half-open connections.
func (r *PQRelay) Run(ctx context.Context) error {
	listener := pq.NewListener(r.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			r.logger.WithError(err).Warn("tracking listener connect failed")
		case pq.ListenerEventDisconnected:
			r.logger.WithError(err).Warn("tracking listener disconnected")
		case pq.ListenerEventReconnected:
			r.logger.WithFields(nil).Info("tracking listener reconnected")
		}
	})
	defer listener.Close()

	if err := listener.Listen(TrackingTable); err != nil {
		return fmt.Errorf("listen %s: %w", TrackingTable, err)
	}
	r.logger.WithFields(map[string]interface{}{"channel": TrackingTable}).Info("tracking listener started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; rows changed meanwhile were missed.
			if n == nil {
				continue
			}
			e, err := ParseNotification(n.Extra)
			if err != nil {
				r.logger.WithError(err).Warn("ignoring tracking notification")
				continue
			}
			r.hub.Publish(e)
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					r.logger.WithError(err).Debug("tracking listener ping failed")
				}
			}()
		}
	}
}

// SupabaseRelay subscribes to postgres_changes on public.delivery_tracking
// through the BaaS realtime endpoint.
type SupabaseRelay struct {
	rt     *client.RealtimeClient
	hub    *Hub
	logger *logging.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewSupabaseRelay creates a relay on rt.
func NewSupabaseRelay(rt *client.RealtimeClient, hub *Hub, logger *logging.Logger) *SupabaseRelay {
	if logger == nil {
		logger = logging.Default()
	}
	return &SupabaseRelay{rt: rt, hub: hub, logger: logger, minBackoff: time.Second, maxBackoff: 30 * time.Second}
}

// ChangeEvent converts a row change into a hub event.
func ChangeEvent(change *client.PostgresChange) Event {
	return Event{
		Event:   change.Type,
		Table:   change.Table,
		ID:      change.StringField("id"),
		OrderID: change.StringField("order_id"),
		Status:  change.StringField("status"),
	}
}

// Run connects, subscribes once, and redials whenever the socket drops.
// Registered channels are rejoined by Connect.
func (r *SupabaseRelay) Run(ctx context.Context) error {
	subscribed := false
	backoff := r.minBackoff
	for {
		err := r.rt.Connect(ctx)
		if err == nil && !subscribed {
			_, err = r.rt.SubscribeToPostgresChanges(ctx, client.PostgresChangesConfig{
				Event:  "*",
				Schema: "public",
				Table:  TrackingTable,
			}, func(change *client.PostgresChange) {
				r.hub.Publish(ChangeEvent(change))
			})
			subscribed = err == nil
		}
		if err != nil {
			r.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("realtime relay connect failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.maxBackoff {
				backoff = r.maxBackoff
			}
			continue
		}

		backoff = r.minBackoff
		r.logger.WithFields(map[string]interface{}{"table": TrackingTable}).Info("realtime relay subscribed")
		select {
		case <-ctx.Done():
			_ = r.rt.Disconnect()
			return nil
		case <-r.rt.Closed():
			r.logger.WithFields(nil).Warn("realtime relay connection lost")
		}
	}
}
