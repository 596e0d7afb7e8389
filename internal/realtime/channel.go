package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrReconnectExhausted is reported by Err when the reconnect budget ran out.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	// ErrNotConnected is returned when a message cannot be queued.
	ErrNotConnected = errors.New("realtime: not connected")
)

// Handler receives the payload of one inbound event.
type Handler func(data json.RawMessage)

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	URL string
	// Token, when set, is sent as a bearer token on every dial.
	Token func() string

	MinDelay    time.Duration // first reconnect delay
	MaxDelay    time.Duration // reconnect delay cap
	MaxAttempts int           // consecutive failed redials before giving up; 0 = forever
}

func (o ChannelOptions) withDefaults() ChannelOptions {
	if o.MinDelay <= 0 {
		o.MinDelay = time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = 5 * o.MinDelay
	}
	return o
}

// Channel is the client's single connection to the event stream. It owns the
// socket, re-asserts room membership after every reconnect and dispatches
// inbound events to subscribers.
type Channel struct {
	opts   ChannelOptions
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.Mutex
	room      string
	send      chan WSMessage // nil while disconnected
	nextID    uint64
	handlers  map[string]map[uint64]Handler
	onConnect map[uint64]func()
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// NewChannel creates a disconnected channel.
func NewChannel(opts ChannelOptions, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &Channel{
		opts:      opts.withDefaults(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger,
		handlers:  make(map[string]map[uint64]Handler),
		onConnect: make(map[uint64]func()),
		done:      done,
	}
}

// Connect dials the server and starts the connection manager, which redials
// after a lost connection. It returns the first dial's error. Calling Connect
// on a running channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil
	}
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.mu.Unlock()

	go c.run(runCtx, conn, done)
	return nil
}

// JoinRoom records the room this client belongs to and asserts membership
// now if connected. The client is in one room at a time: a previous room is
// left first. Membership is re-asserted after every reconnect.
func (c *Channel) JoinRoom(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.room
	c.room = code
	if c.send == nil {
		return
	}
	if prev != "" && prev != code {
		c.emitLocked(EventLeaveRoom, prev)
	}
	c.emitLocked(EventJoinRoom, code)
}

// Room returns the room membership intent.
func (c *Channel) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Emit queues an outbound event.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrNotConnected
	}
	return c.emitLocked(event, payload)
}

func (c *Channel) emitLocked(event string, payload any) error {
	msg, err := newMessage(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("channel send buffer full, dropping", zap.String("event", event))
		return ErrNotConnected
	}
}

// Subscribe registers a handler for an inbound event and returns a function
// removing it. Handlers run on the channel's read goroutine and must not block.
func (c *Channel) Subscribe(event string, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnConnect registers a callback run after every successful (re)connect,
// once membership has been re-asserted.
func (c *Channel) OnConnect(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.onConnect[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onConnect, id)
	}
}

// Connected reports whether a connection is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send != nil
}

// Done is closed when the connection manager stops.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns why the manager stopped, or nil after Dispose.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Dispose closes the connection and releases the room membership, all
// subscriptions and connect callbacks. A later Connect needs a new JoinRoom.
func (c *Channel) Dispose() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.room = ""
	c.handlers = make(map[string]map[uint64]Handler)
	c.onConnect = make(map[uint64]func())
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != nil {
		if token := c.opts.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("event channel disconnected, reconnecting")
		var err error
		if conn, err = c.redial(ctx); err != nil {
			c.mu.Lock()
			if ctx.Err() == nil {
				c.err = err
			}
			c.cancel = nil
			c.mu.Unlock()
			return
		}
	}
}

func (c *Channel) redial(ctx context.Context) (*websocket.Conn, error) {
	delay := c.opts.MinDelay
	for attempt := 1; c.opts.MaxAttempts == 0 || attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		c.logger.Warn("event channel redial failed", zap.Int("attempt", attempt), zap.Error(err))
		delay = min(delay*2, c.opts.MaxDelay)
	}
	return nil, ErrReconnectExhausted
}

// serve runs one connection until it fails or ctx is canceled.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	send := make(chan WSMessage, 64)
	quit := make(chan struct{})

	c.mu.Lock()
	c.send = send
	if c.room != "" {
		c.emitLocked(EventJoinRoom, c.room)
	}
	callbacks := make([]func(), 0, len(c.onConnect))
	for _, fn := range c.onConnect {
		callbacks = append(callbacks, fn)
	}
	c.mu.Unlock()
	c.logger.Info("event channel connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(conn, send, quit)
	}()

	for _, fn := range callbacks {
		fn()
	}
	c.readPump(conn)

	c.mu.Lock()
	if c.send == send {
		c.send = nil
	}
	c.mu.Unlock()
	close(quit)
	wg.Wait()
	_ = conn.Close()
}

func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("event channel read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(PongWait))
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg WSMessage) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[msg.Event]))
	for _, h := range c.handlers[msg.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	if len(handlers) == 0 {
		c.logger.Debug("unhandled event", zap.String("event", msg.Event))
		return
	}
	for _, h := range handlers {
		h(msg.Data)
	}
}

func (c *Channel) writePump(conn *websocket.Conn, send <-chan WSMessage, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				c.logger.Debug("event channel write failed", zap.String("event", msg.Event), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
