package sse

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmbridge/farmbridge/internal/application/notify"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
)

func newClient(clientID string) *notify.StreamClient {
	return notify.NewStreamClient(clientID, uuid.New(), identity.RoleFarmer)
}

func testMessage() *notify.Message {
	return notify.NewMessage("consultation.scheduled", json.RawMessage(`{}`))
}

func TestHub_RegisterAndSend(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := newClient("dashboard-1")
	h.Register(c)
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, h.SendToClient("dashboard-1", testMessage()))
	msg := <-c.MessageChan
	assert.Equal(t, "consultation.scheduled", msg.Event)

	assert.ErrorIs(t, h.SendToClient("dashboard-2", testMessage()), ErrClientNotFound)
}

func TestHub_ReconnectSurvivesStaleTeardown(t *testing.T) {
	h := NewHub(zerolog.Nop())

	old := newClient("dashboard-1")
	h.Register(old)

	// Reconnect with the same client id replaces the old connection.
	fresh := newClient("dashboard-1")
	h.Register(fresh)
	assert.Equal(t, 1, h.ClientCount())

	// The old connection's channel was closed so its handler unwinds.
	_, open := <-old.MessageChan
	assert.False(t, open)

	// The unwinding handler's teardown must not take the replacement down.
	h.Unregister(old)
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, h.SendToClient("dashboard-1", testMessage()))
	msg, open := <-fresh.MessageChan
	assert.True(t, open)
	assert.NotNil(t, msg)

	// The fresh connection's own teardown still works.
	h.Unregister(fresh)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_SendToSlowClient(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := newClient("dashboard-1")
	h.Register(c)

	for i := 0; i < cap(c.MessageChan); i++ {
		require.NoError(t, h.SendToClient("dashboard-1", testMessage()))
	}
	assert.ErrorIs(t, h.SendToClient("dashboard-1", testMessage()), ErrBufferFull)
}

func TestHub_Stop(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.Register(newClient("a"))
	h.Register(newClient("b"))
	h.Stop()
	assert.Equal(t, 0, h.ClientCount())
}
