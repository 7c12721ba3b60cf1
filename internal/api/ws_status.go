package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swapgrid/internal/eventbus"
)

// --- WebSocket Hub ---

// Hub fans status messages out to every connected websocket client. Its
// run loop lives for the duration of the owning Server and exits when the
// server's done channel closes.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.Mutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStatusWebSocket streams refresh-status snapshots to the client until
// it disconnects or the server shuts down.
func (s *Server) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Status WebSocket upgrade error:", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.hub.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case client.hub.unregister <- client:
			case <-s.done:
			}
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

type statusFeedMessage struct {
	Type      string `json:"type"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
	Rows      int    `json:"rows,omitempty"`
	Error     string `json:"error,omitempty"`
}

// runStatusFeed forwards refresh events from the bus onto the websocket hub
// until the server shuts down.
func (s *Server) runStatusFeed() {
	if s.bus == nil {
		return
	}
	events := make(chan eventbus.Event, 64)
	s.bus.Subscribe(eventbus.TypeRefreshComplete, events)
	s.bus.Subscribe(eventbus.TypeRefreshFailed, events)

	for {
		var evt eventbus.Event
		select {
		case <-s.done:
			return
		case evt = <-events:
		}
		select {
		case <-s.done:
			// Shutdown raced the event; drop it.
			return
		default:
		}

		msg := statusFeedMessage{
			Type:      evt.Type,
			Service:   evt.Service,
			Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
			Rows:      evt.Rows,
			Error:     evt.Err,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case s.hub.broadcast <- data:
		case <-s.done:
			return
		}
	}
}
