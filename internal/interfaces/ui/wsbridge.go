package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/autodrive/autodrive/internal/domain/coordinator"
	"github.com/autodrive/autodrive/internal/domain/history"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // loopback UI surface; origin checks are the reverse proxy's job
	},
}

// wsClient is one connected UI process.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Hub fans the coordinator's event envelopes out to every connected
// websocket client and routes inbound ack/stop/prompt messages back
// onto the coordinator's command queue.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	submit Submitter
	logger *zap.Logger
}

// NewHub creates a hub. submit receives every command a client sends.
func NewHub(submit Submitter, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*wsClient),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		submit:     submit,
		logger:     logger,
	}
}

// Emit implements coordinator.EventSink: every event is serialized once
// and broadcast to all clients.
func (h *Hub) Emit(ev coordinator.Event) {
	data, err := MarshalEnvelope(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event envelope", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

// Run pumps registration and broadcast until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("UI client connected", zap.String("client_id", client.id))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("UI client disconnected", zap.String("client_id", client.id))
		case message := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("Client send buffer full, dropping", zap.String("client_id", id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount reports how many UI clients are attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a websocket client connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "ui_" + time.Now().Format("20060102150405.000000000")
	}

	client := &wsClient{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		logger: h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			c.logger.Error("Failed to parse inbound message", zap.Error(err))
			continue
		}
		c.handleInbound(in)
	}
}

func (c *wsClient) handleInbound(in Inbound) {
	switch in.Kind {
	case InboundPing:
		data, _ := json.Marshal(Envelope{Kind: "pong", Timestamp: time.Now().Unix()})
		select {
		case c.send <- data:
		default:
		}

	case InboundPrompt:
		if c.hub.submit != nil && in.Text != "" {
			c.hub.submit(coordinator.Command{
				Kind:             coordinator.CmdHandleUserPrompt,
				UserConversation: history.History{history.NewUserMessage(in.Text)},
			})
		}

	default:
		if cmd, ok := in.ToCommand(); ok && c.hub.submit != nil {
			c.hub.submit(cmd)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
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
