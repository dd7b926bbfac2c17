package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/internal/observability"
	"github.com/your-org/medface/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	patientID string // optional filter
}

type message struct {
	patientID string
	data      []byte
}

// Hub maintains active WebSocket clients and broadcasts activity events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done. Call this once, in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.patientID)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				slog.Debug("ws client disconnected")
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.patientID != "" && client.patientID != msg.patientID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, disconnect it.
					h.drop(client)
				}
			}
		}
	}
}

// join hands a client to Run. It reports false once Run has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave hands a disconnected client back to Run, or gives up once Run has
// stopped and the client set is gone.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// BroadcastEvent queues an event for every subscribed client. Events are
// dropped when the hub is saturated.
func (h *Hub) BroadcastEvent(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{patientID: event.PatientID, data: data}:
	default:
		slog.Warn("ws broadcast queue full, dropping event", "type", event.Type)
	}
}

// Notify converts an activity event and broadcasts it.
func (h *Hub) Notify(_ context.Context, evt models.Event) {
	h.BroadcastEvent(ToWSEvent(evt))
}

func ToWSEvent(evt models.Event) *dto.WSEvent {
	return &dto.WSEvent{
		Type:      evt.Type,
		PatientID: evt.PatientID,
		File:      evt.File,
		Role:      evt.Role,
		Distance:  evt.Distance,
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
	}
}

// HandleWS handles WebSocket upgrade requests.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 64),
		patientID: c.Query("patient_id"),
	}

	if !h.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	// Incoming messages are ignored; reading only detects disconnection.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
