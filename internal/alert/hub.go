package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	clientBufferSize = 16
	writeTimeout     = 5 * time.Second
)

// Hub broadcasts alerts to connected WebSocket clients. A client that falls
// behind by more than clientBufferSize alerts is disconnected.
type Hub struct {
	logger  *slog.Logger
	clients map[*hubClient]struct{}

	// Statistics
	broadcasts uint64
	dropped    uint64

	mu sync.RWMutex
}

type hubClient struct {
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// HubStats represents alert hub statistics
type HubStats struct {
	Clients    int    `json:"clients"`
	Broadcasts uint64 `json:"broadcasts"`
	Dropped    uint64 `json:"dropped_clients"`
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Notify broadcasts the alert as a JSON text frame to every client
func (h *Hub) Notify(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcasts++
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			c.close()
			h.dropped++
			h.logger.Warn("Dropping slow alert client")
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams alerts until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		h.logger.Debug("WebSocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &hubClient{send: make(chan []byte, clientBufferSize)}
	h.register(client)
	defer h.unregister(client)

	// alerts flow one way; CloseRead handles control frames and cancels on disconnect
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-client.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := writeFrame(ctx, conn, data); err != nil {
				h.logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.logger.Debug("Alert client connected", slog.Int("clients", len(h.clients)))
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.logger.Debug("Alert client disconnected", slog.Int("clients", len(h.clients)))
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Clients:    len(h.clients),
		Broadcasts: h.broadcasts,
		Dropped:    h.dropped,
	}
}
