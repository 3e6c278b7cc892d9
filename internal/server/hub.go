package server

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ClientConn defines an interface for a WebSocket connection.
type ClientConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub manages WebSocket clients.
type Hub struct {
	clients    map[ClientConn]bool
	mu         sync.Mutex
	broadcast  chan Message
	register   chan ClientConn
	unregister chan ClientConn
	quit       chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[ClientConn]bool),
		broadcast:  make(chan Message),
		register:   make(chan ClientConn),
		unregister: make(chan ClientConn),
		quit:       make(chan struct{}),
		logger:     log.With().Str("component", "server").Logger(),
	}
}

// Run starts the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info().Msg("WebSocket client connected.")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.logger.Info().Msg("WebSocket client disconnected.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					h.logger.Warn().Err(err).Msg("Broadcast error")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients. It is a no-op once the hub stopped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
	}
}

// Register adds a client.
func (h *Hub) Register(c ClientConn) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(c ClientConn) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
