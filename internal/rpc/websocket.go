package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/klingon-swap/internal/audit"
	"github.com/klingon-exchange/klingon-swap/pkg/logging"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// EventType is the type of a streamed swap event.
type EventType string

const (
	EventSwapInitiated EventType = "swap_initiated"
	EventSwapCompleted EventType = "swap_completed"
	EventSwapRefunded  EventType = "swap_refunded"
	EventSwapExpired   EventType = "swap_expired"
)

var eventTypes = map[audit.EventType]EventType{
	audit.EventInitiated: EventSwapInitiated,
	audit.EventCompleted: EventSwapCompleted,
	audit.EventRefunded:  EventSwapRefunded,
	audit.EventExpired:   EventSwapExpired,
}

// WSEvent is one message on the stream.
type WSEvent struct {
	Type      EventType   `json:"type"`
	Data      audit.Event `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WSWatch narrows what a client receives. Swaps and Accounts widen each
// other; Events narrows both. A client that never sent one sees everything.
type WSWatch struct {
	Swaps    []string `json:"swaps,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Events   []string `json:"events,omitempty"`
}

// matches reports whether e passes the watch.
func (w *WSWatch) matches(typ EventType, e audit.Event) bool {
	if w == nil {
		return true
	}
	if len(w.Events) > 0 && !slices.Contains(w.Events, string(typ)) {
		return false
	}
	if len(w.Swaps) == 0 && len(w.Accounts) == 0 {
		return true
	}
	if slices.Contains(w.Swaps, e.SwapID) {
		return true
	}
	for _, acct := range []string{e.Initiator, e.Participant, e.Operator} {
		if acct != "" && slices.Contains(w.Accounts, acct) {
			return true
		}
	}
	return false
}

// WSClient is a connected stream client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu    sync.RWMutex
	watch *WSWatch
}

func (c *WSClient) setWatch(w *WSWatch) {
	c.mu.Lock()
	c.watch = w
	c.mu.Unlock()
}

func (c *WSClient) wants(typ EventType, e audit.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watch.matches(typ, e)
}

// WSHub fans swap audit events out to stream clients. It is an audit.Sink.
type WSHub struct {
	clients    map[*WSClient]struct{}
	events     chan audit.Event
	register   chan *WSClient
	unregister chan *WSClient
	quit       chan struct{}
	stopOnce   sync.Once
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewWSHub creates a new hub. Run must be started for events to flow.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]struct{}),
		events:     make(chan audit.Event, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		quit:       make(chan struct{}),
		log:        logging.GetDefault().Component("ws"),
	}
}

// Run is the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client disconnected", "clients", n)

		case e := <-h.events:
			h.deliver(e)
		}
	}
}

// deliver sends e to every interested client and drops the ones that
// cannot keep up.
func (h *WSHub) deliver(e audit.Event) {
	typ, ok := eventTypes[e.Type]
	if !ok {
		typ = EventType("swap_" + string(e.Type))
	}
	data, err := json.Marshal(WSEvent{Type: typ, Data: e, Timestamp: e.At.Unix()})
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err)
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(typ, e) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		h.drop(client)
	}
	h.mu.Unlock()
	h.log.Warn("Dropped slow WebSocket clients", "count", len(slow), "swap_id", e.SwapID)
}

// drop removes client. Callers hold h.mu.
func (h *WSHub) drop(client *WSClient) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Notify queues a swap event for the stream. It never fails, so the hub can
// sit behind an audit fan-out; a full queue drops the event.
func (h *WSHub) Notify(_ context.Context, e audit.Event) error {
	select {
	case h.events <- e:
	default:
		h.log.Warn("Event queue full, dropping event", "type", e.Type, "swap_id", e.SwapID)
	}
	return nil
}

// Stop ends the event loop and disconnects every client.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades a stream connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		hub:  s.wsHub,
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump applies watch messages until the connection ends.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var watch WSWatch
		if err := c.conn.ReadJSON(&watch); err != nil {
			var syntax *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typ) {
				c.hub.log.Debug("Ignoring malformed watch", "error", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			return
		}
		c.setWatch(&watch)
	}
}

// writePump writes one event per frame and keeps the connection alive.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
