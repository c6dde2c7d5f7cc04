package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudx-io/openbid/enclaveapi"
)

// clientBuffer bounds the per-client frame queue. A browser that falls
// this far behind starts losing events rather than stalling the fanout.
const clientBuffer = 16

const wsWriteTimeout = 10 * time.Second

// Hub fans auction events out to connected WebSocket clients. It is the
// browser-facing counterpart of the auction service's own subscriber
// hub, fed by the single upstream subscription.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[int]chan enclaveapi.EventFrame
	next    int
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware;
			// the upgrade itself accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int]chan enclaveapi.EventFrame),
	}
}

// Broadcast queues a frame for every connected client. Sends never
// block; clients with full queues miss the frame.
func (h *Hub) Broadcast(frame enclaveapi.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// ClientCount returns how many WebSocket clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() (int, chan enclaveapi.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan enclaveapi.EventFrame, clientBuffer)
	h.clients[id] = ch
	return id, ch
}

func (h *Hub) unregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
}

// handleEvents upgrades the request to a WebSocket and streams auction
// events until the client disconnects.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade failed", "err", err)
		return
	}

	id, events := h.register()
	h.log.Info("WebSocket client connected", "client", id)

	closed := make(chan struct{})
	go func() {
		// Drain the read side so close frames and disconnects are
		// noticed.
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.unregister(id)
		conn.Close()
		h.log.Info("WebSocket client disconnected", "client", id)
	}()

	for {
		select {
		case frame, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
