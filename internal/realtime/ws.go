package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/storefront/internal/httputil"
)

const (
	writeWait  = 7 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
)

// message is the JSON frame written to websocket clients.
type message struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id,omitempty"`
	*Event
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.origins) == 0 {
				return true
			}
			return h.origins[origin]
		},
	}
}

// ServeWS streams tracking events. With ?order_id= the client receives the
// changes of one order (the public order page); without it the caller must
// be delivery staff and receives every change.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	filter := Filter{OrderID: r.URL.Query().Get("order_id")}
	if filter.OrderID == "" && !httputil.RequireRole(w, r, "delivery_person", "admin") {
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.Subscribe(filter)
	defer sub.Close()

	log := h.logger.WithContext(r.Context()).WithField("order_id", filter.OrderID)
	log.Debug("tracking subscriber connected")

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound frames are ignored; reading keeps pongs and close frames flowing.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, message{Type: "hello", OrderID: filter.OrderID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			log.Debug("tracking subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, message{Type: "change", OrderID: e.OrderID, Event: &e}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, m message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}
