// Package ws pushes analysis verdicts to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"LinePulse/internal/domain/models"
	domrepo "LinePulse/internal/domain/repository"
	"LinePulse/pkg/logger"
)

// EventType represents the type of streaming event.
type EventType string

const (
	EventVerdict   EventType = "verdict"
	EventHeartbeat EventType = "heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Event is a streaming event sent to clients.
type Event struct {
	Type      EventType `json:"type"`
	MatchKey  string    `json:"match_key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Hub owns the set of connected clients. Only the Run loop touches the
// client map, so a slow client is dropped without locking broadcasters.
type Hub struct {
	log        *logger.Logger
	clients    map[*Client]struct{}
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	heartbeat  time.Duration
	upgrader   websocket.Upgrader
}

// Client is one WebSocket connection. An empty match filter receives everything.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	matches map[string]struct{}
}

// HubOption configures Hub.
type HubOption func(*Hub)

// WithHeartbeat sets the heartbeat interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) { h.heartbeat = d }
}

// WithAllowedOrigins restricts upgrades to the given origins. Empty allows all.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
}

func NewHub(log *logger.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		log:        log,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		heartbeat:  30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Debug("ws client connected", logger.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Debug("ws client disconnected", logger.Int("clients", len(h.clients)))
			}

		case ev := <-h.broadcast:
			h.fanout(ev)

		case <-tick:
			h.fanout(Event{
				Type:      EventHeartbeat,
				Timestamp: time.Now().UTC(),
				Data:      map[string]int{"clients": len(h.clients)},
			})
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
}

func (h *Hub) fanout(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("ws marshal event", logger.Error(err))
		return
	}
	for c := range h.clients {
		if ev.Type == EventVerdict && !c.wants(ev.MatchKey) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("ws client too slow, dropping")
			h.drop(c)
		}
	}
}

// Broadcast queues an event without blocking; events are dropped when the queue is full.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("ws broadcast queue full, dropping event", logger.String("type", string(ev.Type)))
	}
}

// BroadcastVerdict pushes an analysis result to subscribers of its match.
func (h *Hub) BroadcastVerdict(res *models.AnalysisResult) {
	h.Broadcast(Event{
		Type:      EventVerdict,
		MatchKey:  res.MatchKey,
		Timestamp: res.AnalyzedAt,
		Data:      res,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// RegisterRoutes mounts the stream endpoint. ?match=a&match=b pre-subscribes.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/verdicts", h.serve)
}

func (h *Hub) serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", logger.Error(err))
		return nil
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		matches: make(map[string]struct{}),
	}
	client.subscribe(c.QueryParams()["match"])

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil
	case <-c.Request().Context().Done():
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) wants(matchKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.matches) == 0 {
		return true
	}
	_, ok := c.matches[matchKey]
	return ok
}

func (c *Client) subscribe(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		if k != "" {
			c.matches[k] = struct{}{}
		}
	}
	c.mu.Unlock()
}

func (c *Client) unsubscribe(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.matches, k)
	}
	c.mu.Unlock()
}

// clientMessage is what subscribers send: {"type":"subscribe","matches":["..."]}.
type clientMessage struct {
	Type    string   `json:"type"`
	Matches []string `json:"matches"`
}

func (c *Client) handleMessage(b []byte) {
	var msg clientMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Matches)
	case "unsubscribe":
		c.unsubscribe(msg.Matches)
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ws read", logger.Error(err))
			}
			return
		}
		c.handleMessage(b)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var _ domrepo.VerdictBroadcaster = (*Hub)(nil)
