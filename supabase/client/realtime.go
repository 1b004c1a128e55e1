package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient handles Supabase Realtime subscriptions.
type RealtimeClient struct {
	mu       sync.RWMutex
	writeMu  sync.Mutex
	url      string
	apiKey   string
	conn     *websocket.Conn
	channels map[string]*Channel
	done     chan struct{}
	closed   chan struct{}
	ref      int
}

// EventHandler handles a realtime change.
type EventHandler func(change *PostgresChange)

// RealtimeEvent is one Phoenix protocol message.
type RealtimeEvent struct {
	Event   string          `json:"event"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

// PostgresChange is the data of a postgres_changes event.
type PostgresChange struct {
	Type      string         `json:"type"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// StringField returns a string column from the new record, falling back to
// the old record for deletes.
func (c *PostgresChange) StringField(name string) string {
	for _, rec := range []map[string]any{c.Record, c.OldRecord} {
		if v, ok := rec[name].(string); ok {
			return v
		}
	}
	return ""
}

// Channel is a joined realtime topic.
type Channel struct {
	client   *RealtimeClient
	topic    string
	config   PostgresChangesConfig
	handlers []EventHandler
	joined   bool
	joinRef  string
}

// NewRealtimeClient creates a new realtime client.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		apiKey:   apiKey,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Realtime returns a realtime client for the project.
func (c *Client) Realtime() *RealtimeClient {
	return NewRealtimeClient(c.baseURL, c.apiKey)
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.writeMu.Lock()
	r.conn = conn
	r.writeMu.Unlock()
	r.done = make(chan struct{})
	r.closed = make(chan struct{})

	go r.handleMessages(conn, r.closed)
	go r.heartbeat(r.done)

	// Channels registered before a reconnect are joined again.
	for _, ch := range r.channels {
		if err := ch.joinLocked(); err != nil {
			return err
		}
	}

	return nil
}

// Closed is closed when the current connection drops.
func (r *RealtimeClient) Closed() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Disconnect closes the WebSocket connection.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)

	r.writeMu.Lock()
	err := r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.conn.Close()
	r.conn = nil
	r.writeMu.Unlock()

	for _, ch := range r.channels {
		ch.joined = false
	}
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

func (r *RealtimeClient) nextRef() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) send(msg map[string]any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("not connected")
	}
	return r.conn.WriteJSON(msg)
}

// PostgresChangesConfig configures a postgres changes subscription.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // optional, e.g. "order_id=eq.42"
}

// SubscribeToPostgresChanges joins a channel that receives row changes of
// one table and calls handler for each.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler EventHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	ch, ok := r.channels[topic]
	if !ok {
		ch = &Channel{client: r, topic: topic, config: cfg}
		r.channels[topic] = ch
	}
	ch.handlers = append(ch.handlers, handler)
	r.mu.Unlock()

	if err := ch.join(); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Channel) join() error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	return c.joinLocked()
}

func (c *Channel) joinLocked() error {
	if c.joined {
		return nil
	}

	change := map[string]any{
		"event":  c.config.Event,
		"schema": c.config.Schema,
		"table":  c.config.Table,
	}
	if c.config.Filter != "" {
		change["filter"] = c.config.Filter
	}

	ref := c.client.nextRef()
	c.joinRef = ref
	msg := map[string]any{
		"topic": c.topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []any{change},
			},
			"access_token": c.client.apiKey,
		},
		"ref":      ref,
		"join_ref": ref,
	}

	if err := c.client.send(msg); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	c.joined = true
	return nil
}

// Unsubscribe leaves the channel.
func (c *Channel) Unsubscribe() error {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	if !c.joined {
		return nil
	}

	msg := map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      c.client.nextRef(),
		"join_ref": c.joinRef,
	}

	if err := c.client.send(msg); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}

	c.joined = false
	delete(c.client.channels, c.topic)
	return nil
}

func (r *RealtimeClient) handleMessages(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.dropConn(conn)
			return
		}

		var event RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		r.dispatchEvent(&event)
	}
}

// dropConn forgets a connection that failed on its own so the next Connect
// dials again.
func (r *RealtimeClient) dropConn(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != conn {
		return
	}
	r.writeMu.Lock()
	r.conn.Close()
	r.conn = nil
	r.writeMu.Unlock()
	close(r.done)
	for _, ch := range r.channels {
		ch.joined = false
	}
}

// ParseChange extracts a postgres change from a realtime message. It accepts
// both the postgres_changes envelope and the older per-table events.
func ParseChange(event *RealtimeEvent) (*PostgresChange, bool) {
	switch event.Event {
	case "postgres_changes":
		var payload struct {
			Data PostgresChange `json:"data"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.Data.Type == "" {
			return nil, false
		}
		return &payload.Data, true
	case "INSERT", "UPDATE", "DELETE":
		var change PostgresChange
		if err := json.Unmarshal(event.Payload, &change); err != nil {
			return nil, false
		}
		if change.Type == "" {
			change.Type = event.Event
		}
		return &change, true
	}
	return nil, false
}

func (r *RealtimeClient) dispatchEvent(event *RealtimeEvent) {
	change, ok := ParseChange(event)
	if !ok {
		return
	}

	r.mu.RLock()
	ch := r.channels[event.Topic]
	var handlers []EventHandler
	if ch != nil && (ch.config.Event == "*" || ch.config.Event == change.Type) {
		handlers = append(handlers, ch.handlers...)
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(change)
	}
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			ref := r.nextRef()
			r.mu.Unlock()
			_ = r.send(map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     ref,
			})
		}
	}
}
