package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dontdude/coderoom/internal/domain"
)

// Hub tracks live connections and delivers frames to them. It never blocks:
// a connection whose send buffer is full is dropped.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*client
}

// Check if Hub implements domain.Broadcaster
var _ domain.Broadcaster = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*client)}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()
	slog.Debug("Client registered", "connID", c.id, "total", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	n := len(h.conns)
	h.mu.Unlock()
	slog.Debug("Client unregistered", "connID", c.id, "total", n)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send implements domain.Broadcaster.
func (h *Hub) Send(connID, event string, payload any) {
	msg, ok := encode(outMessage{Event: event, Data: payload})
	if !ok {
		return
	}
	h.sendRaw(connID, msg)
}

// Broadcast implements domain.Broadcaster. The frame is encoded once.
func (h *Hub) Broadcast(members []domain.Member, event string, payload any, except string) {
	msg, ok := encode(outMessage{Event: event, Data: payload})
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range members {
		if m.ID == except {
			continue
		}
		if c, ok := h.conns[m.ID]; ok {
			c.enqueue(msg)
		}
	}
}

// ack answers a request that carried an id.
func (h *Hub) ack(connID string, id *int64, payload any) {
	if id == nil {
		return
	}
	msg, ok := encode(outMessage{Event: EventAck, ID: id, Data: payload})
	if !ok {
		return
	}
	h.sendRaw(connID, msg)
}

func (h *Hub) sendRaw(connID string, msg []byte) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

func encode(m outMessage) ([]byte, bool) {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Failed to encode message", "event", m.Event, "error", err)
		return nil, false
	}
	return data, true
}
