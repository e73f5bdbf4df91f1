// Package websocket fans the controller's session-transition stream out to
// connected dashboard clients, replacing the browser-side auth state
// callback of the original dashboard.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"scms-access-service/internal/service/access"
)

// Hub tracks connected clients and broadcasts each session snapshot to all
// of them. Clients that fall behind are disconnected rather than allowed to
// block the hub.
type Hub struct {
	controller *access.Controller
	logger     *zap.Logger

	mu      sync.Mutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

func NewHub(controller *access.Controller, logger *zap.Logger) *Hub {
	return &Hub{
		controller: controller,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Register attaches a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Run pumps session snapshots to clients until ctx is cancelled or the
// controller's stream closes.
func (h *Hub) Run(ctx context.Context) {
	snapshots, cancel := h.controller.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			// New clients immediately learn the current session.
			h.send(client, h.controller.Session())

		case client := <-h.unregister:
			h.drop(client)

		case snap, ok := <-snapshots:
			if !ok {
				h.shutdown()
				return
			}
			h.broadcast(snap)
		}
	}
}

func (h *Hub) broadcast(snap access.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("failed to marshal session snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.enqueue(payload) {
			h.logger.Warn("dropping slow websocket client")
			h.drop(client)
		}
	}
}

func (h *Hub) send(client *Client, snap access.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("failed to marshal session snapshot", zap.Error(err))
		return
	}
	if !client.enqueue(payload) {
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.mu.Unlock()
}
