package monitor

import (
	"sync"

	"github.com/kstaniek/sv-arbitrator/internal/logging"
	"github.com/kstaniek/sv-arbitrator/internal/metrics"
)

// Client is one connected diagnostics-tap subscriber.
type Client struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once

	// Mask is the negotiated subscription mask from Handshake; a zero value
	// means "no filter", so existing callers that never set it still get
	// every event kind.
	Mask byte
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans out FSM/election events to every connected tap client,
// dropping events for clients that fall behind rather than blocking the
// arbiter's ingest loop.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetMonitorClients(cur)
	if cur == 1 {
		logging.Component("monitor").Info("tap_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetMonitorClients(cur)
	if existed && cur == 0 {
		logging.Component("monitor").Info("tap_last_disconnected")
	}
}

// Broadcast delivers ev to every connected client, dropping it for any
// client whose output buffer is full.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		if c.Mask != 0 && ev.Kind.capBit()&c.Mask == 0 {
			continue
		}
		select {
		case c.Out <- ev:
		default:
			metrics.IncMonitorDrop()
		}
	}
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
