package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var ErrSlowConsumer = errors.New("websocket subscriber too slow, disconnected")

// Role selects which notifications a subscriber receives.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	// RoleBridge receives everything, for chat transports relaying to users.
	RoleBridge Role = "bridge"
)

type Envelope struct {
	Type     string                       `json:"type"`
	Admin    *models.AdminNotification    `json:"admin,omitempty"`
	Customer *models.CustomerNotification `json:"customer,omitempty"`
}

type client struct {
	conn       *websocket.Conn
	role       Role
	customerID string
	send       chan []byte
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *client) wants(e Envelope) bool {
	switch c.role {
	case RoleBridge:
		return true
	case RoleAdmin:
		return e.Admin != nil
	case RoleCustomer:
		return e.Customer != nil && e.Customer.CustomerID == c.customerID
	}
	return false
}

// Hub fans notifications out to websocket subscribers. Delivery is best
// effort: nobody listening is not an error, a subscriber whose buffer is
// full is dropped.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request. Query parameters: role (admin, customer,
// bridge) and customer_id for the customer role.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := Role(r.URL.Query().Get("role"))
	customerID := r.URL.Query().Get("customer_id")
	switch role {
	case RoleAdmin, RoleBridge:
	case RoleCustomer:
		if customerID == "" {
			http.Error(w, "customer_id is required for role customer", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "role must be admin, customer or bridge", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, role: role, customerID: customerID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket subscriber connected", zap.String("role", string(role)), zap.String("customer_id", customerID))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump only watches for pongs and disconnects; subscribers act through
// the HTTP API.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
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

func (h *Hub) NotifyAdmin(_ context.Context, n models.AdminNotification) error {
	return h.broadcast(Envelope{Type: "admin", Admin: &n})
}

func (h *Hub) NotifyCustomer(_ context.Context, n models.CustomerNotification) error {
	return h.broadcast(Envelope{Type: "customer", Customer: &n})
}

func (h *Hub) broadcast(e Envelope) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket subscriber", zap.String("role", string(c.role)))
		h.remove(c)
	}
	if len(slow) > 0 {
		return ErrSlowConsumer
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
