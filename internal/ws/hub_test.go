package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scribehq/scribe-backend/internal/events"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(events.NewBus(), []string{"*"}, zap.NewNop().Sugar(), nil)
}

func newTestClient(h *Hub) *Client {
	c := &Client{
		hub:    h,
		send:   make(chan []byte, 256),
		topics: make(map[events.Type]bool),
	}
	c.markActive()
	return c
}

func TestHub_CleanupDropsInactiveClients(t *testing.T) {
	h := newTestHub(t)

	active := newTestClient(h)
	stale := newTestClient(h)
	stale.lastActive.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	h.clients[active] = true
	h.clients[stale] = true

	h.cleanupInactiveClients()

	assert.Contains(t, h.clients, active)
	assert.NotContains(t, h.clients, stale)

	_, open := <-stale.send
	assert.False(t, open, "stale client send channel should be closed")
}

func TestHub_ClientActivityConcurrentWithCleanup(t *testing.T) {
	h := newTestHub(t)
	client := newTestClient(h)
	h.clients[client] = true

	msg, err := json.Marshal(subscriptionRequest{Type: "subscribe", Topics: []string{string(events.TypePostUpdated)}})
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				client.markActive()
				client.handleMessage(msg)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		h.cleanupInactiveClients()
		h.broadcast(events.New(events.TypePostUpdated, map[string]any{"i": i}))
	}
	close(done)
	wg.Wait()

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Contains(t, h.clients, client, "active client must survive cleanup")
}

func TestClient_WantsTopic(t *testing.T) {
	h := newTestHub(t)
	client := newTestClient(h)

	assert.True(t, client.wantsTopic(events.TypePostCreated), "empty set receives everything")

	sub, err := json.Marshal(subscriptionRequest{Type: "subscribe", Topics: []string{string(events.TypeAutosaveStatus)}})
	require.NoError(t, err)
	client.handleMessage(sub)

	assert.True(t, client.wantsTopic(events.TypeAutosaveStatus))
	assert.False(t, client.wantsTopic(events.TypePostCreated))

	unsub, err := json.Marshal(subscriptionRequest{Type: "unsubscribe", Topics: []string{string(events.TypeAutosaveStatus)}})
	require.NoError(t, err)
	client.handleMessage(unsub)

	assert.True(t, client.wantsTopic(events.TypePostCreated), "back to the empty set")
}
