package ws

import (
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/nirvaankohli/north-pole-consensus/internal/domain"
	"github.com/nirvaankohli/north-pole-consensus/internal/metrics"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
)

// Hub fans events out to the live connections of each room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		log:   log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.room] = clients
	}
	clients[c] = struct{}{}
	metrics.WSConnectionsActive.Inc()

	h.log.Debug("websocket client registered",
		slog.String("room", c.room),
		slog.Int("room_clients", len(clients)),
	)
}

// Unregister removes the client and closes its send queue. It is safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}

	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
	metrics.WSConnectionsActive.Dec()

	h.log.Debug("websocket client unregistered",
		slog.String("room", c.room),
		slog.Int("room_clients", len(clients)),
	)
}

// Broadcast sends the event to every client of the room except skip, which
// may be nil.
func (h *Hub) Broadcast(room string, event domain.OutboundEvent, skip *Client) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode event", slog.String("event", event.Event), sl.Err(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if c == skip {
			continue
		}
		h.enqueue(c, payload)
	}
}

// Send delivers the event to a single client.
func (h *Hub) Send(c *Client, event domain.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode event", slog.String("event", event.Event), sl.Err(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.rooms[c.room][c]; !ok {
		return
	}
	h.enqueue(c, payload)
}

// enqueue never blocks. A full queue drops the frame. Callers hold h.mu so
// the channel cannot be closed underneath.
func (h *Hub) enqueue(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		metrics.WSMessagesDropped.WithLabelValues("queue_full").Inc()
		h.log.Warn("websocket send queue full, dropping frame", slog.String("room", c.room))
	}
}

// ClientCount returns the number of live connections in the room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close drops every client. Their write pumps send a close frame and exit.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room, clients := range h.rooms {
		for c := range clients {
			close(c.send)
			metrics.WSConnectionsActive.Dec()
		}
		delete(h.rooms, room)
	}
}
