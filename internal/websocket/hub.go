// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/2223010198-web/MonicGpio/internal/data"
)

// Message types pushed to dashboard sessions.
const (
	TypeSnapshot = "snapshot"
	TypeEvent    = "event"
	TypeOffline  = "offline"
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client registered: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				log.Printf("WebSocket client unregistered: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					log.Printf("WebSocket client %s send buffer full, removing.", client.ID)
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// RegisterClient safely registers a new client to the hub. It reports
// false once the hub has stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount is the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastSnapshot sends the refreshed dashboard state to all clients.
func (h *Hub) BroadcastSnapshot(snapshot interface{}) {
	h.send(TypeSnapshot, snapshot)
}

// BroadcastOffline tells clients the sensor feed went stale.
func (h *Hub) BroadcastOffline(snapshot interface{}) {
	h.send(TypeOffline, snapshot)
}

// BroadcastEvent sends a new timeline event to all clients.
func (h *Hub) BroadcastEvent(e data.Event) {
	h.send(TypeEvent, e)
}

func (h *Hub) send(kind string, payload interface{}) {
	messageBytes, err := Encode(kind, payload)
	if err != nil {
		log.Printf("Error marshalling %s for broadcast: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- messageBytes:
	default:
		log.Printf("WebSocket broadcast queue full, dropping %s", kind)
	}
}

// Encode wraps payload in the message envelope.
func Encode(kind string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Payload: payload})
}
