package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// WSSubscribeRequest is the client -> server control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is the server -> client event envelope. The channel is the
// event name from the vault core.
type WSEvent struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// Hub maintains active WebSocket connections and broadcasts vault
// events to subscribers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[ws] client connected: %s (total: %d)", client.id, len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("[ws] client disconnected: %s (total: %d)", client.id, len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer full, disconnect
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToChannel sends a message to all clients subscribed to a
// channel. An empty subscription set receives everything.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	message, err := json.Marshal(WSEvent{Channel: channel, Data: data})
	if err != nil {
		log.Printf("[ws] marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				// Buffer full, skip this client
			}
		}
	}
}

// Sink adapts the hub to the vault's event.Sink: every core event is
// broadcast under its event name as the channel.
type Sink struct {
	Hub *Hub
}

func (s Sink) Emit(ev event.Event) {
	s.Hub.BroadcastToChannel(ev.Name(), ev)
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed reports whether the client wants a channel. A client
// with no explicit subscriptions gets the full feed.
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[channel]
}

func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	log.Printf("[ws] client %s subscribed to %s", c.id, channel)
}

func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	log.Printf("[ws] client %s unsubscribed from %s", c.id, channel)
}

// readPump pumps control messages from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			log.Printf("[ws] invalid message: %v", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			log.Printf("[ws] unknown op: %s", req.Op)
		}
	}
}

// writePump pumps broadcast messages to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 64),
		id:            fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano()),
		subscriptions: make(map[string]bool),
	}

	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}
