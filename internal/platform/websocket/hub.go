// Package websocket streams committed admission events to connected clients.
// Clients are grouped by facility and may narrow their feed to specific event
// types.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/platform/events"
)

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

// Client is a single feed subscriber. An empty type filter receives every
// event for its facility.
type Client struct {
	ID       string
	Facility string
	Send     chan []byte

	types map[string]struct{}
}

func NewClient(id, facility string, types []string, buffer int) *Client {
	c := &Client{ID: id, Facility: facility, Send: make(chan []byte, buffer), types: map[string]struct{}{}}
	for _, t := range types {
		if t != "" {
			c.types[t] = struct{}{}
		}
	}
	return c
}

func (c *Client) wants(eventType string) bool {
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

// Hub tracks clients per facility. It satisfies events.Publisher so the
// admission manager can fan events out to it alongside the broker.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // facility -> clients
	closed  bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "websocket").Logger(),
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client. It returns false once the hub is closed.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.Facility] == nil {
		h.clients[c.Facility] = make(map[*Client]struct{})
	}
	h.clients[c.Facility][c] = struct{}{}
	return true
}

// Unregister removes c and closes its Send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.Facility]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.Facility)
	}
	close(c.Send)
}

// ProcessMessage applies a subscribe or unsubscribe request to c's filter.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.types[t] = struct{}{}
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.types, t)
		}
	}
}

// Publish delivers evt to every matching client of its facility. Slow
// clients whose buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[evt.FacilityID] {
		if !c.wants(evt.Type) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("event", evt.Type).Msg("client buffer full, event dropped")
		}
	}
	return nil
}

// Close disconnects every client and rejects new registrations.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for facility, set := range h.clients {
		for c := range set {
			close(c.Send)
		}
		delete(h.clients, facility)
	}
	return nil
}

// ClientCount returns the number of connected clients in facility.
func (h *Hub) ClientCount(facility string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[facility])
}
