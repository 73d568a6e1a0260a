// Package clienthub implements the WebSocket-facing front door: it gives
// each connection a ClientState, decodes inbound frames, dispatches them
// to a type-keyed handler table, and offers broadcast helpers for the
// sequence/trigger/discovery subsystems. register/unregister/broadcast
// channels and a per-client eventbus.Sink back a bidirectional hub — a
// readPump hands inbound bytes to a Dispatcher, a writePump drains the
// client's sink onto its WebSocket connection whenever it's notified of
// new data.
package clienthub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/multiverse-labs/labctl/internal/eventbus"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Client wraps a single WebSocket connection with its outbound queue. The
// queue is a bounded eventbus.Sink rather than a plain channel so a slow
// client drops its OLDEST unsent frame (with a running Dropped() count)
// instead of silently losing whatever frame lost the race for a full
// channel slot.
type Client struct {
	id     string
	conn   *websocket.Conn
	sink   *eventbus.Sink
	closed chan struct{}
}

// ID returns the client's connection id, also used as its clientID in
// SessionManager/Engine subscriptions.
func (c *Client) ID() string { return c.id }

// Hub manages WebSocket connections, fans broadcasts out to all of them,
// and forwards inbound frames to a Dispatcher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	registerCh   chan *Client
	unregisterCh chan *Client
	broadcastCh  chan []byte

	dispatcher *Dispatcher
}

// NewHub creates a Hub that forwards decoded connect/message/disconnect
// events to dispatcher.
func NewHub(dispatcher *Dispatcher) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		registerCh:   make(chan *Client, 16),
		unregisterCh: make(chan *Client, 16),
		broadcastCh:  make(chan []byte, 256),
		dispatcher:   dispatcher,
	}
}

// Run processes register, unregister, and broadcast events until ctx is
// canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.closed)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.registerCh:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.dispatcher.onConnect(client.id)

		case client := <-h.unregisterCh:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				close(client.closed)
				delete(h.clients, client.id)
			}
			h.mu.Unlock()
			h.dispatcher.onDisconnect(client.id)

		case data := <-h.broadcastCh:
			h.mu.RLock()
			for _, c := range h.clients {
				c.sink.Send(data)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends data to every connected client. Safe from any goroutine.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcastCh <- data:
	default:
		// broadcast channel full, drop
	}
}

// SendTo delivers data to a single client by id, if still connected.
// Satisfies the Sender interface the Dispatcher uses for direct replies
// and per-device subscription sinks.
func (h *Hub) SendTo(clientID string, data []byte) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.sink.Send(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades an HTTP request and runs the connection's
// read/write pumps until it closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // LAN bench tool, not exposed to the open internet
	})
	if err != nil {
		log.Printf("clienthub: accept failed: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		sink:   eventbus.NewSink(clientSendBuffer),
		closed: make(chan struct{}),
	}

	h.registerCh <- client

	go h.writePump(r.Context(), client)
	h.readPump(r.Context(), client)
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		select {
		case <-c.sink.Notify():
			for _, msg := range c.sink.Drain() {
				data, ok := msg.([]byte)
				if !ok {
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := c.conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *Client) {
	defer func() { h.unregisterCh <- c }()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		h.dispatcher.handle(c.id, data, h)
	}
}
