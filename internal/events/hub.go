package events

import (
	"sync"
	"time"

	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/google/uuid"
)

// connection is one attached presentation layer.
type connection struct {
	id       string
	sendCh   chan models.Message
	lastSeen time.Time
}

// Hub fans orchestrator notifications out to every connected
// presentation layer. Broadcast never blocks the supervising flow: slow
// consumers drop messages instead of stalling the transfer.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	broadcastCh chan models.Message
}

func NewHub() *Hub {
	h := &Hub{
		connections: make(map[string]*connection),
		broadcastCh: make(chan models.Message, 100),
	}
	go h.broadcastPump()
	return h
}

func (h *Hub) broadcastPump() {
	for msg := range h.broadcastCh {
		h.mu.RLock()
		for _, conn := range h.connections {
			select {
			case conn.sendCh <- msg:
			default:
				logger.Log.Warn("send channel full, dropping message", "conn", conn.id, "type", msg.Type)
			}
		}
		h.mu.RUnlock()
	}
}

// Broadcast queues a message for every connection. Safe from any
// goroutine; used directly as the orchestrator's EventSink.
func (h *Hub) Broadcast(msg models.Message) {
	select {
	case h.broadcastCh <- msg:
	default:
		logger.Log.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

func (h *Hub) attach() *connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := &connection{
		id:       uuid.NewString(),
		sendCh:   make(chan models.Message, 100),
		lastSeen: time.Now(),
	}
	h.connections[conn.id] = conn
	logger.Log.Info("presentation layer connected", "conn", conn.id)
	return conn
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, exists := h.connections[id]; exists {
		close(conn.sendCh)
		delete(h.connections, id)
		logger.Log.Info("presentation layer disconnected", "conn", id)
	}
}

// ConnectionCount is used by status reporting.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
