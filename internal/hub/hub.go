// Package hub pushes cache invalidation events to connected WebSocket clients.
package hub

import (
	"strings"
	"sync"
	"time"

	"guest-gallery-backend/internal/query"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Message types exchanged over the socket
const (
	TypeSession     = "session"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSubscribed  = "subscribed"
	TypeInvalidated = "invalidated"
	TypeRefreshed   = "refreshed"
	TypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type    string      `json:"type"`
	Keys    []string    `json:"keys,omitempty"`
	Key     string      `json:"key,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Client is one registered connection
type Client struct {
	UserID string

	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	prefixes map[string]struct{}
	watches  map[string]func()
}

// Hub manages WebSocket connections and their key subscriptions
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	queries *query.Client
}

// New creates a hub and subscribes it to the cache's invalidations
func New(queries *query.Client) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		queries: queries,
	}
	queries.Cache().OnInvalidate(h.broadcastInvalidation)
	return h
}

// Register registers a connection and starts its writer
func (h *Hub) Register(userID string, conn *websocket.Conn) *Client {
	c := &Client{
		UserID:   userID,
		conn:     conn,
		send:     make(chan Message, sendBuffer),
		done:     make(chan struct{}),
		prefixes: make(map[string]struct{}),
		watches:  make(map[string]func()),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
	return c
}

// Unregister removes a connection and cancels its watches
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, exists := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if !exists {
		return
	}

	c.mu.Lock()
	for _, cancel := range c.watches {
		cancel()
	}
	c.watches = nil
	c.mu.Unlock()

	c.close()
	log.Info().Str("user_id", c.UserID).Msg("WebSocket connection unregistered")
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe adds key prefixes to the client's subscriptions. Keys that name a
// single query are also watched, so the client hears when fresh data is ready.
func (h *Hub) Subscribe(c *Client, keys []string) {
	for _, key := range keys {
		if key == "" {
			continue
		}

		c.mu.Lock()
		if c.watches == nil {
			c.mu.Unlock()
			return
		}
		c.prefixes[key] = struct{}{}
		_, watched := c.watches[key]
		c.mu.Unlock()

		if watched {
			continue
		}
		cancel, err := h.queries.Watch(key, func(err error) {
			if err != nil {
				c.Send(Message{Type: TypeError, Key: key, Message: "refetch failed"})
				return
			}
			c.Send(Message{Type: TypeRefreshed, Key: key})
		})
		if err != nil {
			// A family prefix such as "photos"; invalidations only.
			continue
		}

		c.mu.Lock()
		if c.watches == nil {
			c.mu.Unlock()
			cancel()
			return
		}
		c.watches[key] = cancel
		c.mu.Unlock()
	}

	c.Send(Message{Type: TypeSubscribed, Keys: c.Subscriptions()})
}

// Unsubscribe removes key prefixes from the client's subscriptions
func (h *Hub) Unsubscribe(c *Client, keys []string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.prefixes, key)
		if cancel, ok := c.watches[key]; ok {
			cancel()
			delete(c.watches, key)
		}
	}
	c.mu.Unlock()

	c.Send(Message{Type: TypeSubscribed, Keys: c.Subscriptions()})
}

// broadcastInvalidation tells every client whose subscriptions overlap the prefixes
func (h *Hub) broadcastInvalidation(prefixes []string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if matched := c.overlapping(prefixes); len(matched) > 0 {
			c.Send(Message{Type: TypeInvalidated, Keys: matched})
		}
	}
}

// Send queues a message for the client. A client that cannot keep up is disconnected.
func (c *Client) Send(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("user_id", c.UserID).Msg("WebSocket send buffer full, closing")
		c.close()
		return false
	}
}

// Subscriptions returns the client's subscribed prefixes
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.prefixes))
	for k := range c.prefixes {
		keys = append(keys, k)
	}
	return keys
}

// Done is closed once the client has been shut down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) overlapping(prefixes []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for _, p := range prefixes {
		for sub := range c.prefixes {
			if under(sub, p) || under(p, sub) {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Error().Err(err).Str("user_id", c.UserID).Msg("Failed to send WebSocket message")
				c.close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// under reports whether key equals prefix or lies beneath it
func under(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}
