package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// ErrBroadcastFull is returned by Publish when the hub cannot keep up.
var ErrBroadcastFull = errors.New("ws: broadcast channel full")

// Verifier checks a session token. Implemented by service.IdentityVerifier.
type Verifier interface {
	Verify(token string) (*service.Identity, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte // buffered outbound message queue
	identity  string      // empty = anonymous
	auctionID uuid.UUID   // uuid.Nil = all auctions
	assetID   string      // "" = all assets
}

// wants reports whether the client subscribed to evt.
func (c *Client) wants(evt *domain.AuctionEvent) bool {
	if c.auctionID != uuid.Nil && c.auctionID != evt.AuctionID {
		return false
	}
	if c.assetID != "" && c.assetID != evt.AssetID {
		return false
	}
	return true
}

// involvedIn reports whether the client is the actor or the bidder of evt.
func (c *Client) involvedIn(evt *domain.AuctionEvent) bool {
	if c.identity == "" {
		return false
	}
	return domain.SameIdentity(c.identity, evt.Actor) ||
		(evt.Bidder != nil && domain.SameIdentity(c.identity, *evt.Bidder))
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

type broadcastItem struct {
	evt domain.AuctionEvent
}

// Hub maintains the set of active clients and routes auction events to them.
// Run() must be called in a dedicated goroutine before ServeWs is used.
type Hub struct {
	// Registered clients and their concurrency guard.
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	broadcast  chan broadcastItem
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	// verifier is optional: without it every connection is anonymous.
	verifier Verifier
	logger   *slog.Logger

	// upgrader is safe for concurrent use after construction.
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run().
func NewHub(verifier Verifier, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastItem, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		verifier:   verifier,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration, and broadcast events
// sequentially until ctx is cancelled. Call it once as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case item := <-h.broadcast:
			h.fanOut(&item.evt)
		}
	}
}

func (h *Hub) fanOut(evt *domain.AuctionEvent) {
	// Two encodings per event: one for involved clients, one for the rest.
	theirs, err := json.Marshal(EventMessage{Type: MsgTypeAuctionEvent, Event: *evt})
	if err != nil {
		h.logger.Error("ws.Hub: marshal event", "type", evt.Type, "auction_id", evt.AuctionID, "err", err)
		return
	}
	mine, err := json.Marshal(EventMessage{Type: MsgTypeAuctionEvent, Event: *evt, Mine: true})
	if err != nil {
		h.logger.Error("ws.Hub: marshal event", "type", evt.Type, "auction_id", evt.AuctionID, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(evt) {
			continue
		}
		data := theirs
		if client.involvedIn(evt) {
			data = mine
		}
		select {
		case client.send <- data:
		default:
			// Client's buffer full: drop the message for this client.
			// The writePump will detect a stalled connection separately.
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements service.Publisher. It never blocks: when the hub is
// saturated the event is dropped for WS clients and ErrBroadcastFull returned.
func (h *Hub) Publish(_ context.Context, evt domain.AuctionEvent) error {
	select {
	case h.broadcast <- broadcastItem{evt: evt}:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection, optionally
// authenticates the caller via a JWT in the ?token= query parameter, applies
// the ?auction_id= and ?asset_id= filters and starts the read/write pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var auctionID uuid.UUID
	if raw := q.Get("auction_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid auction_id", http.StatusBadRequest)
			return
		}
		auctionID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws.ServeWs: upgrade failed", "err", err)
		return
	}

	var (
		identity string // empty = anonymous
		tokenErr error
	)
	if token := q.Get("token"); token != "" && h.verifier != nil {
		id, err := h.verifier.Verify(token)
		if err == nil {
			identity = id.Address
		} else {
			tokenErr = err
		}
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		identity:  identity,
		auctionID: auctionID,
		assetID:   q.Get("asset_id"),
	}

	welcome := WelcomeMessage{Type: MsgTypeWelcome, Identity: identity, AssetID: client.assetID}
	if auctionID != uuid.Nil {
		welcome.AuctionID = &auctionID
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}
	if tokenErr != nil {
		// The stream stays open anonymously; tell the client why it is not
		// authenticated.
		if data, err := json.Marshal(ErrorMessage{Type: MsgTypeError, Code: "ERR_TOKEN_INVALID", Message: tokenErr.Error()}); err == nil {
			client.send <- data
		}
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the WebSocket connection.  Only pong messages
// are handled (they reset the read deadline).  All other inbound messages are
// discarded; this is a server-push-only protocol.  When the connection drops
// the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ws.readPump: unexpected close", "identity", c.identity, "err", err)
			}
			return
		}
		// All inbound messages are silently dropped; server is push-only.
	}
}
