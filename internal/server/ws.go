package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/miiobridge/internal/coordinator"
	"github.com/muurk/miiobridge/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// clientBuffer is the per-client outbound queue; clients that fall
	// further behind are disconnected.
	clientBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsUpdate is the JSON document streamed to websocket clients.
type wsUpdate struct {
	DeviceID  string         `json:"device_id"`
	Available bool           `json:"available"`
	Status    map[string]any `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// wsHub tracks connected websocket clients and broadcasts coordinator
// updates to all of them.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsUpdate
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast queues an update to every client, dropping clients whose
// queue is full.
func (h *wsHub) broadcast(update coordinator.Update) {
	msg := wsUpdate{
		DeviceID:  update.DeviceID,
		Available: update.Available,
		Status:    update.Status,
	}
	if update.Err != nil {
		msg.Error = update.Err.Error()
	}

	h.mu.Lock()
	var stale []*wsClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleWS upgrades the connection and streams coordinator updates until
// the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsUpdate, clientBuffer),
	}
	s.hub.add(client)
	logging.Debug("WebSocket client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()))

	// Writer: drain the queue until the hub closes it.
	go func() {
		defer func() { _ = conn.Close() }()
		for msg := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.hub.remove(client)
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait))
	}()

	// Reader: the stream is one-way, but the read loop surfaces client
	// disconnects and handles control frames.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(client)
				return
			}
		}
	}()
}
