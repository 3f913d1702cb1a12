// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/rankledger/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	maxFilters     = 50
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 1000
	sendBuffer     = 256
)

// newUpgrader creates a WebSocket upgrader that respects the configured allowed
// origins. When allowedOrigins is empty the upgrader accepts any origin.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// SubscriptionFilter determines which events a WebSocket client receives.
// Empty fields match anything.
type SubscriptionFilter struct {
	Actor string `json:"actor,omitempty"`
	Type  string `json:"type,omitempty"`
}

func (f SubscriptionFilter) normalize() SubscriptionFilter {
	return SubscriptionFilter{
		Actor: strings.ToLower(strings.TrimSpace(f.Actor)),
		Type:  strings.ToLower(strings.TrimSpace(f.Type)),
	}
}

func (f SubscriptionFilter) matches(kind string, actors []string) bool {
	if f.Type != "" && f.Type != kind {
		return false
	}
	if f.Actor == "" {
		return true
	}
	for _, a := range actors {
		if strings.EqualFold(a, f.Actor) {
			return true
		}
	}
	return false
}

// wsClient represents a single connected WebSocket client.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	filters []SubscriptionFilter
	mu      sync.RWMutex
}

// ClientRegistry manages all connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*wsClient]struct{}),
	}
}

// Len is the number of connected clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends an event to all clients whose filters match.
func (r *ClientRegistry) Broadcast(event protocol.Event) {
	data, err := marshalEvent(event)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to marshal event for WebSocket broadcast")
		return
	}
	kind, actors := eventScope(event)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.clients {
		if c.matchesAny(kind, actors) {
			select {
			case c.send <- data:
			default:
				// client too slow, skip
				getLog().Warn().Str("event", kind).Msg("Dropping event for slow WebSocket client")
			}
		}
	}
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// matchesAny returns true if the event matches any of the client's filters,
// or if the client has no filters (receives everything).
func (c *wsClient) matchesAny(kind string, actors []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filters) == 0 {
		return true
	}
	for _, f := range c.filters {
		if f.matches(kind, actors) {
			return true
		}
	}
	return false
}

// actorScoped and kinded let events declare their scope without this file
// enumerating every event type.
type actorScoped interface {
	Actors() []string
}

type kinded interface {
	Kind() string
}

func eventScope(event protocol.Event) (kind string, actors []string) {
	if k, ok := event.(kinded); ok {
		kind = k.Kind()
	} else {
		kind = fmt.Sprintf("%T", event)
	}
	if s, ok := event.(actorScoped); ok {
		actors = s.Actors()
	}
	return kind, actors
}

// wsMessage is the envelope for client → server WebSocket messages.
type wsMessage struct {
	Type    string             `json:"type"`    // "subscribe" or "unsubscribe"
	Filters SubscriptionFilter `json:"filters"` // single filter per message
}

// wsOutMessage is the envelope for server → client WebSocket messages.
type wsOutMessage struct {
	Type      string `json:"type"` // "event" or "error"
	EventType string `json:"event_type,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
}

func marshalEvent(event protocol.Event) ([]byte, error) {
	kind, _ := eventScope(event)
	return json.Marshal(wsOutMessage{
		Type:      "event",
		EventType: kind,
		Payload:   event,
	})
}

// HandleWebSocket upgrades an HTTP connection and manages the client
// lifecycle. ?actor= and ?type= seed the client's first filter.
func HandleWebSocket(registry *ClientRegistry, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, sendBuffer),
		}
		initial := SubscriptionFilter{
			Actor: r.URL.Query().Get("actor"),
			Type:  r.URL.Query().Get("type"),
		}.normalize()
		if initial != (SubscriptionFilter{}) {
			client.filters = append(client.filters, initial)
		}
		if !registry.add(client) {
			getLog().Warn().Msg("WebSocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		getLog().Info().
			Str("remote", r.RemoteAddr).
			Str("actor", initial.Actor).
			Str("type", initial.Type).
			Msg("WebSocket client connected")

		go client.writePump()
		client.readPump(registry)
	}
}

func (c *wsClient) readPump(registry *ClientRegistry) {
	defer func() {
		registry.remove(c)
		close(c.send) // signals writePump to exit
		c.conn.Close()
		getLog().Info().Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid WebSocket message")
			continue
		}
		filter := msg.Filters.normalize()

		c.mu.Lock()
		switch msg.Type {
		case "subscribe":
			if len(c.filters) >= maxFilters {
				getLog().Warn().Msg("WebSocket client hit max filter limit")
			} else {
				c.filters = append(c.filters, filter)
				getLog().Debug().
					Str("actor", filter.Actor).
					Str("type", filter.Type).
					Msg("WebSocket client subscribed")
			}
		case "unsubscribe":
			c.filters = removeFilter(c.filters, filter)
			getLog().Debug().Msg("WebSocket client unsubscribed")
		}
		c.mu.Unlock()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func removeFilter(filters []SubscriptionFilter, target SubscriptionFilter) []SubscriptionFilter {
	result := make([]SubscriptionFilter, 0, len(filters))
	for _, f := range filters {
		if f == target {
			continue
		}
		result = append(result, f)
	}
	return result
}
