package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lastofguss/guss/internal/auth"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/models"
	"github.com/lastofguss/guss/internal/rounds"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for WebSocket connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// Hub owns every live WebSocket connection and relays bus events to them.
// Round-scoped events (score updates, per-round refresh hints) reach only the
// connections subscribed to that round; lifecycle and list events reach
// everyone. Delivery to a client is best-effort: a connection too slow to
// drain its send buffer is closed rather than allowed to stall the relay.
type Hub struct {
	app      *rounds.App
	tokens   *auth.Manager
	bus      *events.Bus
	upgrader websocket.Upgrader
	config   Config

	mu    sync.RWMutex
	conns map[*Connection]struct{}

	ctxMu   sync.RWMutex
	baseCtx context.Context
}

// Connection is one client's WebSocket session.
type Connection struct {
	ID        string
	Principal *models.User
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub

	ConnectedAt time.Time

	// sendMu guards closed and orders sends before the channel close, so a
	// broadcast racing a disconnect can never send on a closed channel.
	sendMu sync.Mutex
	closed bool

	subMu      sync.RWMutex
	subscribed map[uuid.UUID]struct{}
}

// NewHub creates a WebSocket hub.
func NewHub(app *rounds.App, tokens *auth.Manager, bus *events.Bus, config Config) *Hub {
	return &Hub{
		app:    app,
		tokens: tokens,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		conns:   make(map[*Connection]struct{}),
		baseCtx: context.Background(),
	}
}

// Run relays bus events to connections until ctx is canceled. Commands
// received from clients after cancellation fail fast on the same ctx.
func (h *Hub) Run(ctx context.Context) error {
	h.ctxMu.Lock()
	h.baseCtx = ctx
	h.ctxMu.Unlock()

	sub := h.bus.Subscribe()
	defer sub.Close()

	log.Info().Msg("websocket hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("websocket hub shutting down")
			h.closeAll()
			return nil
		case ev := <-sub.C:
			h.relay(ev)
		}
	}
}

// commandCtx is the context client commands run under.
func (h *Hub) commandCtx() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.baseCtx
}

// relay fans one bus event out to the connections it concerns.
func (h *Hub) relay(ev events.Event) {
	roundOnly := ev.Type == events.TypeScoreUpdated || ev.Type == events.TypeRoundRefresh

	frame, err := json.Marshal(ServerMessage{
		Type:    string(ev.Type),
		RoundID: roundIDString(ev.RoundID),
		Data:    ev.Data,
	})
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal broadcast frame")
		return
	}

	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		if roundOnly && !conn.isSubscribed(ev.RoundID) {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.trySend(frame)
	}
}

// ServeHTTP upgrades an authenticated request to a WebSocket session.
// Browsers cannot set headers on WebSocket upgrades, so the token is also
// accepted from the cookie or a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}
	principal, err := h.tokens.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Principal:   principal,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Hub:         h,
		ConnectedAt: time.Now(),
		subscribed:  make(map[uuid.UUID]struct{}),
	}
	h.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("username", principal.Username).
		Msg("WebSocket connection established")
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	_, exists := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if !exists {
		return
	}
	conn.closeSend()

	log.Info().
		Str("connection_id", conn.ID).
		Str("username", conn.Principal.Username).
		Msg("connection unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
		delete(h.conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.closeSend()
		conn.Conn.Close()
	}
}

// ConnectionCount reports the number of live sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (c *Connection) isSubscribed(roundID uuid.UUID) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscribed[roundID]
	return ok
}

func (c *Connection) subscribe(roundID uuid.UUID) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribed[roundID] = struct{}{}
}

func (c *Connection) unsubscribe(roundID uuid.UUID) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribed, roundID)
}

// closeSend closes the send channel exactly once. Callers must not hold
// sendMu.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// trySend queues a frame without blocking; a full buffer kills the session,
// a closed one drops the frame.
func (c *Connection) trySend(frame []byte) {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.Send <- frame:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		log.Warn().
			Str("connection_id", c.ID).
			Str("username", c.Principal.Username).
			Msg("connection send buffer full, closing connection")
		c.Hub.unregister(c)
		c.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	}
}

func roundIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
