package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/logctx"
)

const writeWait = 5 * time.Second

// EventHub streams install state changes to WebSocket clients.
type EventHub struct {
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameHostOrigin,
		},
	}
}

// HandleWebSocket upgrades the request and keeps the client until it disconnects.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "err", err)

		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()

	logger.DebugContext(r.Context(), "event stream client connected", "clients", h.ClientCount())

	// reads only detect the disconnect; clients send nothing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(conn)

	logger.DebugContext(r.Context(), "event stream client disconnected", "clients", h.ClientCount())
}

// Run broadcasts every change until the channel closes or ctx is done.
func (h *EventHub) Run(ctx context.Context, changes <-chan installstate.StateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}

			h.Broadcast(change)
		}
	}
}

// Broadcast sends change to every connected client, dropping clients that fail.
func (h *EventHub) Broadcast(change installstate.StateChange) {
	data, err := json.Marshal(change)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for c, l := range h.clients {
		clients[c] = l
	}
	h.mu.RUnlock()

	for client, lock := range clients {
		lock.Lock()
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		err := client.WriteMessage(websocket.TextMessage, data)
		lock.Unlock()

		if err != nil {
			h.remove(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()

	conn.Close()
}

// sameHostOrigin accepts non-browser clients and pages served from the API host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
