// Package sse holds the server-sent-events hub that pushes consultation
// updates to connected dashboards.
package sse

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/farmbridge/farmbridge/internal/application/notify"
)

// Hub tracks connected stream clients and implements notify.StreamHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notify.StreamClient
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*notify.StreamClient),
		logger:  logger.With().Str("service", "sse_hub").Logger(),
	}
}

func (h *Hub) Register(client *notify.StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

// Unregister removes client if it is still the registered connection for
// its ID. When a reconnect has already replaced it, the stale teardown is a
// no-op so the fresh connection survives.
func (h *Hub) Unregister(client *notify.StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[client.ClientID]; ok && cur == client {
		cur.Close()
		delete(h.clients, client.ClientID)
	}
}

// SendToClient pushes msg to one client without blocking. A slow consumer
// whose buffer is full loses the message; the SSE reconnect replay path
// recovers it from the feed.
func (h *Hub) SendToClient(clientID string, msg *notify.Message) error {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return ErrClientNotFound
	}
	select {
	case c.MessageChan <- msg:
		return nil
	default:
		h.logger.Warn().Str("client_id", clientID).Msg("stream buffer full, dropping message")
		return ErrBufferFull
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}
