package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/models"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming frames; clients only ever send pings.
	maxMessageSize = 512

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// envelope frames every pushed message with its kind.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans applied tickets and detected opportunities out to every connected
// websocket client. It is fed in process: wire BroadcastTicket as a ledger
// listener and BroadcastOpportunity as the engine's opportunity notifier.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	logger     zerolog.Logger
	startedAt  time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run is the hub's event loop: registration, unregistration, fan-out. Call
// it in a goroutine before serving /ws; it exits when the context ends.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", h.clientCount()).Msg("ws client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", h.clientCount()).Msg("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Client's send buffer is full; drop the message.
					h.logger.Warn().Msg("ws dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastTicket pushes one applied lifecycle event to every client.
func (h *Hub) BroadcastTicket(ev ledger.Event) {
	h.publish("ticket_applied", ev)
}

// BroadcastOpportunity pushes one detected arbitrage opportunity to every
// client.
func (h *Hub) BroadcastOpportunity(opp models.ArbitrageOpportunity) {
	h.publish("opportunity", opp)
}

func (h *Hub) publish(kind string, payload any) {
	data, err := json.Marshal(envelope{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Error().Str("type", kind).Err(err).Msg("ws encode failed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("type", kind).Msg("ws broadcast queue full, dropping")
	}
}

// HandleWS upgrades the request and registers the client with the hub.
// GET /ws
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("ws upgrade failed")
		return
	}

	cl := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- cl
	cl.sendHello()

	go cl.writePump()
	go cl.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendHello pushes a small status envelope so clients can mark the
// connection healthy before any market event flows.
func (cl *wsClient) sendHello() {
	data, err := json.Marshal(envelope{Type: "status", Payload: map[string]any{
		"connected":      true,
		"uptime_seconds": int64(time.Since(cl.hub.startedAt).Seconds()),
	}})
	if err != nil {
		return
	}
	select {
	case cl.send <- data:
	default:
	}
}

// readPump drains the connection. Clients do not speak a protocol; reading
// only services pong frames and detects the close.
func (cl *wsClient) readPump() {
	defer func() {
		cl.hub.unregister <- cl
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.hub.logger.Warn().Err(err).Msg("ws unexpected close")
			}
			return
		}
	}
}

// writePump pumps hub messages to the connection and keeps it alive with
// periodic pings.
func (cl *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
