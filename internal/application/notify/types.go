package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/farmbridge/farmbridge/internal/domain/identity"
)

// Observer is one connected dashboard or notification surface.
type Observer struct {
	ObserverID uuid.UUID
	UserID     uuid.UUID
	Role       identity.Role
}

// Message is one user-visible event pushed over the stream.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a stream message.
func NewMessage(event string, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// StreamClient is an active stream connection.
type StreamClient struct {
	ClientID    string
	UserID      uuid.UUID
	Role        identity.Role
	ConnectedAt time.Time
	MessageChan chan *Message
}

// NewStreamClient creates a stream client with a buffered delivery channel.
func NewStreamClient(clientID string, userID uuid.UUID, role identity.Role) *StreamClient {
	return &StreamClient{
		ClientID:    clientID,
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

// Close closes the client's message channel.
func (c *StreamClient) Close() {
	close(c.MessageChan)
}

// StreamHub manages stream connections. The concrete implementation lives
// in infrastructure/sse. Unregister takes the client, not just its ID: a
// reconnect reuses the ID, and the stale connection's teardown must not
// tear down its replacement.
type StreamHub interface {
	Register(client *StreamClient)
	Unregister(client *StreamClient)
	SendToClient(clientID string, msg *Message) error
	ClientCount() int
	Stop()
}
