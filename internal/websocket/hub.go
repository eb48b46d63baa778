package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"aigem/internal/infrastructure"
	"aigem/pkg/contracts/domain"
)

// Message types pushed to clients.
const (
	TypeConnection    = "connection"
	TypeLicenseStatus = "license:status"
	TypeHeartbeat     = "license:heartbeat"
)

// Message is the envelope of every server push.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub fans license status changes out to connected UI clients. A client that
// connects receives the last known status straight away.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu         sync.RWMutex
	lastStatus []byte

	logger  *slog.Logger
	metrics *HubMetrics

	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *HubMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop ends the hub loop and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shut down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			last := h.lastStatus
			h.mu.Unlock()

			h.metrics.recordConnect(ctx)
			h.logger.InfoContext(ctx, "Client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			h.deliver(ctx, client, h.encode(TypeConnection, map[string]interface{}{
				"status":    "connected",
				"client_id": client.id,
			}, client.traceID))
			if last != nil {
				h.deliver(ctx, client, last)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.mu.Unlock()
				h.metrics.recordDisconnect(ctx, time.Since(client.connectedAt))
				h.logger.InfoContext(ctx, "Client unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				h.deliver(ctx, client, message)
			}
		}
	}
}

// deliver queues message for client, dropping the client when its buffer is full.
// Only called from the hub loop.
func (h *Hub) deliver(ctx context.Context, client *Client, message []byte) {
	if message == nil {
		return
	}
	select {
	case client.send <- message:
		h.metrics.recordSent(ctx, len(message))
	default:
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.metrics.recordDropped(ctx)
		h.logger.WarnContext(ctx, "Client send buffer full, disconnecting",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) encode(msgType string, data interface{}, traceID string) []byte {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return nil
	}
	return payload
}

// BroadcastStatus pushes status to every client and remembers it for clients
// that connect later. It has the signature of a validator subscriber.
func (h *Hub) BroadcastStatus(status domain.ValidationStatus) {
	payload := h.encode(TypeLicenseStatus, status, "")
	if payload == nil {
		return
	}

	h.mu.Lock()
	h.lastStatus = payload
	h.mu.Unlock()

	h.publish(payload)
}

// BroadcastJSON pushes an arbitrary typed message to every client.
func (h *Hub) BroadcastJSON(ctx context.Context, msgType string, data interface{}) {
	h.publish(h.encode(msgType, data, infrastructure.GetTraceID(ctx)))
}

func (h *Hub) publish(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
