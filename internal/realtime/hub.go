package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub maintains room code -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// room code -> map[clientID]*Client
	rooms    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per room
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishRoomEvent(roomCode, event string, payload []byte) error
}

// RedisSubscriber subscribes to room channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeRoom(roomCode string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a
// single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Join adds a client to a room. Starts the Redis subscription for the room if
// it is the first member.
func (h *Hub) Join(c *Client, roomCode string) {
	h.mu.Lock()
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(roomCode, func(event string, payload []byte) {
				h.BroadcastToRoom(roomCode, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[roomCode] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("room", roomCode), zap.Error(err))
			}
		}
	}
	h.rooms[roomCode][c.ID] = c
	h.mu.Unlock()
	c.addRoom(roomCode)
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room", roomCode))
}

// Leave removes a client from one room. Cancels the Redis subscription when
// the last member leaves.
func (h *Hub) Leave(c *Client, roomCode string) {
	h.mu.Lock()
	h.leaveLocked(c, roomCode)
	h.mu.Unlock()
	c.removeRoom(roomCode)
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("room", roomCode))
}

// Unregister removes a client from every room it joined.
func (h *Hub) Unregister(c *Client) {
	rooms := c.joinedRooms()
	h.mu.Lock()
	for _, code := range rooms {
		h.leaveLocked(c, code)
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Int("rooms", len(rooms)))
}

func (h *Hub) leaveLocked(c *Client, roomCode string) {
	m, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) > 0 {
		return
	}
	delete(h.rooms, roomCode)
	if cancel, ok := h.subs[roomCode]; ok {
		cancel()
		delete(h.subs, roomCode)
	}
}

// BroadcastToRoom sends a message to all clients in a room (local only).
func (h *Hub) BroadcastToRoom(roomCode, event string, payload any) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomCode]))
	for _, c := range h.rooms[roomCode] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Publish delivers an event to every member of a room on every instance.
// With Redis configured the subscriber callback performs the broadcast once
// for all instances (including this one); otherwise it broadcasts locally.
func (h *Hub) Publish(roomCode, event string, payload any) {
	if h.redis == nil {
		h.BroadcastToRoom(roomCode, event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode publish", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishRoomEvent(roomCode, event, data); err != nil {
		h.logger.Warn("redis publish failed, broadcasting locally", zap.String("room", roomCode), zap.Error(err))
		h.BroadcastToRoom(roomCode, event, json.RawMessage(data))
	}
}

// AudienceCount returns the number of connected clients in a room.
func (h *Hub) AudienceCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// Kick closes the connections of every member of a room. Members must
// rejoin after reconnecting.
func (h *Hub) Kick(roomCode string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomCode]))
	for _, c := range h.rooms[roomCode] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}
