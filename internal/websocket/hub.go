package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Gauge receives the number of open connections. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

type envelope struct {
	recipient uuid.UUID
	payload   []byte
}

// Hub maintains the set of active clients and routes messages to them by account.
type Hub struct {
	// Registered clients by account ID
	clients map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	// done is closed when Run returns; sends into the hub select on it.
	done chan struct{}

	gauge Gauge
	mu    sync.RWMutex
}

// NewHub creates a new Hub instance. gauge may be nil.
func NewHub(gauge Gauge) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
		gauge:      gauge,
	}
}

// ErrHubStopped is returned by Send after Run has returned.
var ErrHubStopped = errors.New("websocket hub stopped")

// Run starts the hub's main loop. It returns when ctx is done. Run must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.accountID] == nil {
				h.clients[client.accountID] = make(map[*Client]bool)
			}
			h.clients[client.accountID][client] = true
			h.mu.Unlock()
			h.report()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.report()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.recipient] {
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
			h.report()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.accountID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client.send)
		if len(clients) == 0 {
			delete(h.clients, client.accountID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
	h.mu.Unlock()
	h.report()
}

func (h *Hub) report() {
	if h.gauge != nil {
		h.gauge.Set(float64(h.TotalClients()))
	}
}

// Send marshals v and queues it for every connection of recipient.
func (h *Hub) Send(ctx context.Context, recipient uuid.UUID, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- envelope{recipient: recipient, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a client. It reports false once the hub has stopped, in
// which case the caller owns the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; after shutdown closeAll already has.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients for an account.
func (h *Hub) ClientCount(accountID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
