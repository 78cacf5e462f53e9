package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	clientBuffer   = 256
)

// Message is one frame of the live feed
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageTypeEvent frames carry one events.Event
const MessageTypeEvent = "event"

// Hub fans detected transitions out to every connected websocket client.
// Slow clients whose buffer fills up are disconnected.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewHub creates a hub; RunWithContext must be running for it to deliver
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, clientBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// String names the hub for the supervisor
func (h *Hub) String() string {
	return "LiveFeedHub"
}

// Serve implements suture.Service
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// RunWithContext delivers messages until ctx ends, then disconnects every client
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.LiveClients.Set(float64(n))
			logger.Debug(fmt.Sprintf("Cliente del feed conectado (%d en total)", n), "LiveFeed")
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.LiveClients.Set(float64(n))
}

func (h *Hub) broadcastToClients(msg Message) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("Cliente del feed demasiado lento, desconectado", "LiveFeed")
		h.remove(client)
	}
}

func (h *Hub) closeAll() {
	h.stopOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	metrics.LiveClients.Set(0)
}

// attach registers client and starts its pumps. It fails once the hub stopped.
func (h *Hub) attach(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
	go client.writePump()
	go client.readPump()
	return true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle is an events.HandlerFunc queueing ev for every client. It never
// blocks the dispatcher: when the hub is backed up the event is dropped.
func (h *Hub) Handle(ctx context.Context, ev events.Event) error {
	if h.ClientCount() == 0 {
		return nil
	}
	select {
	case h.broadcast <- Message{Type: MessageTypeEvent, Data: ev}:
	default:
		logger.Debug("Feed en vivo saturado, evento descartado", "LiveFeed")
	}
	return nil
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan Message, clientBuffer)}
}

// readPump discards client frames and detects closed connections
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug(fmt.Sprintf("Cierre inesperado del feed: %v", err), "LiveFeed")
			}
			return
		}
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
