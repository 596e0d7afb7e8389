package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection on the hub.
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]struct{}
}

// ServeWs handles the WebSocket upgrade and runs the client loop. Room
// membership is asserted by the client with join-room after connecting.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			done:   make(chan struct{}),
			logger: logger,
			rooms:  make(map[string]struct{}),
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) addRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[code] = struct{}{}
}

func (c *Client) removeRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, code)
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for code := range c.rooms {
		out = append(out, code)
	}
	return out
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		// buffer full, skip
		c.logger.Warn("client send buffer full, dropping", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (c *Client) close() {
	_ = c.conn.Close()
}

// roomCode accepts both a bare JSON string and {"roomCode": "..."}.
func roomCode(data json.RawMessage) string {
	var code string
	if err := json.Unmarshal(data, &code); err != nil {
		var obj struct {
			RoomCode string `json:"roomCode"`
		}
		if json.Unmarshal(data, &obj) != nil {
			return ""
		}
		code = obj.RoomCode
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		switch msg.Event {
		case EventJoinRoom:
			if code := roomCode(msg.Data); code != "" {
				c.hub.Join(c, code)
			}
		case EventLeaveRoom:
			if code := roomCode(msg.Data); code != "" {
				c.hub.Leave(c, code)
			}
		default:
			// clients only manage membership; room events come from the REST handlers
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
