// Package ipc exposes the login coordinator to an embedded UI over a local websocket.
// Clients send requests in a small JSON envelope and receive session events pushed
// to every connection.
package ipc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// RequestHandler answers one client request.
type RequestHandler func(ctx context.Context, msg Message) (map[string]any, error)

// Hub tracks connected clients and broadcasts events to them.
type Hub struct {
	upgrader websocket.Upgrader
	handle   RequestHandler

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub builds a hub that answers requests with handle. Browsers may only connect from
// file:// pages or one of allowedOrigins; clients that send no Origin are native.
func NewHub(handle RequestHandler, allowedOrigins []string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if originAllowed(origin, allowed) {
					return true
				}
				log.Warnf("ipc: refusing websocket from origin %q", origin)
				return false
			},
		},
		handle:  handle,
		clients: make(map[string]*client),
	}
}

// originAllowed admits native clients, file:// pages and the configured origins.
// "null" is refused unless configured: sandboxed frames of any site send it.
func originAllowed(origin string, allowed map[string]struct{}) bool {
	origin = normalizeOrigin(origin)
	if origin == "" || strings.HasPrefix(origin, "file://") {
		return true
	}
	_, ok := allowed[origin]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("ipc: upgrade failed: %v", err)
		return
	}
	c := newClient(conn, h, uuid.NewString())
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Debugf("ipc: client %s connected", c.id)

	go c.run()
}

// Broadcast sends msg to every connected client. Clients that cannot be written to
// are dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			c.cleanup(err)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client connection.
func (h *Hub) Stop(_ context.Context) error {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.cleanup(errors.New("ipc: hub stopped"))
	}
	return nil
}

func (h *Hub) handleClientClosed(c *client, cause error) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	log.Debugf("ipc: client %s disconnected: %v", c.id, cause)
}
