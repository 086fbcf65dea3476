package http

import (
	"sync"

	"arena-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type outboundMessage struct {
	Type    string       `json:"type"`
	Payload domain.Event `json:"payload"`
}

// client is one websocket connection. Writes go through the send channel so
// a single goroutine owns the connection for writing.
type client struct {
	id     string
	roomID int64
	userID int64
	conn   *websocket.Conn
	send   chan outboundMessage
}

// Hub indexes connections by room and by user and fans typed game events out
// to them. It is the app.Broadcaster the game service publishes through.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	rooms   map[int64]map[string]*client
	players map[int64]map[string]*client
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		rooms:   make(map[int64]map[string]*client),
		players: make(map[int64]map[string]*client),
	}
}

func (h *Hub) register(roomID, userID int64, conn *websocket.Conn) *client {
	c := &client{
		id:     uuid.NewString(),
		roomID: roomID,
		userID: userID,
		conn:   conn,
		send:   make(chan outboundMessage, 16),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*client)
	}
	h.rooms[roomID][c.id] = c
	if h.players[userID] == nil {
		h.players[userID] = make(map[string]*client)
	}
	h.players[userID][c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.roomID]; ok {
		if _, ok := clients[c.id]; ok {
			delete(clients, c.id)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	if clients, ok := h.players[c.userID]; ok {
		delete(clients, c.id)
		if len(clients) == 0 {
			delete(h.players, c.userID)
		}
	}
}

// NotifyRoom delivers an event to every connection in the room.
func (h *Hub) NotifyRoom(roomID int64, event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[roomID] {
		h.deliver(c, event)
	}
}

// SendToPlayer delivers an event to every connection of one user.
func (h *Hub) SendToPlayer(userID int64, event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.players[userID] {
		h.deliver(c, event)
	}
}

func (h *Hub) deliver(c *client, event domain.Event) {
	msg := outboundMessage{Type: event.EventType(), Payload: event}
	select {
	case c.send <- msg:
	default:
		// Slow consumer: drop rather than stall the whole broadcast.
		h.log.Warn().Str("conn", c.id).Int64("user", c.userID).Str("event", msg.Type).Msg("send buffer full, event dropped")
	}
}

func (c *client) writeLoop(log zerolog.Logger) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("ws write failed")
			return
		}
	}
}
