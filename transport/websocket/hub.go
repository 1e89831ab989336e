package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/koikoi/game/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outgoing messages buffered per connection.
	sendBuffer = 256

	// Events buffered between publishers and the hub loop.
	publishBuffer = 1024

	presenceTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Presence is told when a player's first connection opens and when its last
// connection closes.
type Presence interface {
	PlayerConnected(ctx context.Context, playerID string)
	PlayerDisconnected(ctx context.Context, playerID string)
}

// Client is one WebSocket connection of a player.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	playerID string
}

type delivery struct {
	recipients []string
	data       []byte
}

type presenceChange struct {
	playerID  string
	connected bool
}

// Hub keeps the open connections of every player and pushes events to them.
// It implements event.Sink.
type Hub struct {
	// Registered clients by player ID
	players map[string]map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	changes  chan presenceChange
	presence Presence
	logger   *zap.Logger
}

var _ event.Sink = (*Hub)(nil)

// NewHub creates a new WebSocket hub. presence may be nil.
func NewHub(presence Presence, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		players:    make(map[string]map[*Client]bool),
		broadcast:  make(chan delivery, publishBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		changes:    make(chan presenceChange, publishBuffer),
		presence:   presence,
		logger:     logger.Named("websocket"),
	}
}

// SetPresence sets the presence listener. Call it before Run.
func (h *Hub) SetPresence(p Presence) {
	h.presence = p
}

// Run starts the hub's event loop. It returns when ctx is done, closing every
// connection.
func (h *Hub) Run(ctx context.Context) {
	go h.presenceLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// ServeWS upgrades the request and registers the connection for playerID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, playerID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("player_id", playerID), zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		playerID: playerID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// Publish implements event.Sink. It never blocks: when the hub loop falls
// behind the event is dropped.
func (h *Hub) Publish(recipients []string, evt event.Event) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- delivery{recipients: append([]string(nil), recipients...), data: data}:
	default:
		h.logger.Warn("hub queue full, dropping event",
			zap.String("type", string(evt.Type)),
			zap.String("game_id", evt.GameID))
	}
}

// Connections returns the number of open connections of playerID.
func (h *Hub) Connections(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players[playerID])
}

// registerClient adds a client to its player's set
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.players[client.playerID] == nil {
		h.players[client.playerID] = make(map[*Client]bool)
	}
	h.players[client.playerID][client] = true
	total := len(h.players[client.playerID])
	h.mu.Unlock()

	h.logger.Debug("client registered",
		zap.String("player_id", client.playerID),
		zap.Int("connections", total))
	if total == 1 {
		h.notify(client.playerID, true)
	}
}

// unregisterClient removes a client from its player's set
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.players[client.playerID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.send)
	remaining := len(clients)
	if remaining == 0 {
		delete(h.players, client.playerID)
	}
	h.mu.Unlock()

	h.logger.Debug("client unregistered",
		zap.String("player_id", client.playerID),
		zap.Int("connections", remaining))
	if remaining == 0 {
		h.notify(client.playerID, false)
	}
}

// deliver sends a message to every connection of the recipients. A
// connection whose buffer is full is dropped.
func (h *Hub) deliver(d delivery) {
	var slow []*Client
	h.mu.RLock()
	for _, id := range d.recipients {
		for client := range h.players[id] {
			select {
			case client.send <- d.data:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("client too slow, closing", zap.String("player_id", client.playerID))
		h.unregisterClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	players := h.players
	h.players = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, clients := range players {
		for client := range clients {
			close(client.send)
		}
	}
}

// notify queues a presence change. Changes are delivered in order by
// presenceLoop, off the hub loop: the service takes game locks, and
// publishers holding those locks feed the hub loop.
func (h *Hub) notify(playerID string, connected bool) {
	if h.presence == nil {
		return
	}
	select {
	case h.changes <- presenceChange{playerID: playerID, connected: connected}:
	default:
		h.logger.Warn("presence queue full, dropping change",
			zap.String("player_id", playerID),
			zap.Bool("connected", connected))
	}
}

func (h *Hub) presenceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.changes:
			cctx, cancel := context.WithTimeout(ctx, presenceTimeout)
			if c.connected {
				h.presence.PlayerConnected(cctx, c.playerID)
			} else {
				h.presence.PlayerDisconnected(cctx, c.playerID)
			}
			cancel()
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Commands go through the HTTP API; incoming frames only keep the
		// connection alive.
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.String("player_id", c.playerID), zap.Error(err))
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame; clients parse each frame as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
