package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/chunk-bites/api/internal/auth"
	"github.com/chunk-bites/api/internal/enum"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Deadline for the join authorization check
	authzTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// Authorizer decides whether a principal may watch an order's room.
// The hub never filters at dispatch time; a join either passes this check or
// is rejected outright.
type Authorizer interface {
	CanWatchOrder(ctx context.Context, claims *auth.Claims, orderID uuid.UUID) error
}

// Client represents a single WebSocket session.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	claims *auth.Claims
	authz  Authorizer
	send   chan []byte

	// Topics this session belongs to. Owned by the hub goroutine.
	topics map[string]bool
}

// clientFrame is the only inbound message shape: join or leave an order room.
type clientFrame struct {
	Action  string `json:"action"`
	OrderID string `json:"order_id"`
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// The application runs ReadPump in a per-connection goroutine.
// Clients only send join/leave frames; everything else is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
		c.handleFrame(message)
	}
}

// handleFrame routes one inbound frame to the hub. The session manager does
// not interpret payloads beyond join/leave; it is a transport adapter only.
func (c *Client) handleFrame(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.sendError("invalid message")
		return
	}

	orderID, err := uuid.Parse(frame.OrderID)
	if err != nil {
		c.sendError("invalid order_id")
		return
	}

	switch frame.Action {
	case "join":
		ctx, cancel := context.WithTimeout(context.Background(), authzTimeout)
		err := c.authz.CanWatchOrder(ctx, c.claims, orderID)
		cancel()
		if err != nil {
			// Same response whether the order is missing or owned by someone
			// else, so a join probe leaks nothing.
			c.sendError("cannot join order room")
			return
		}
		c.hub.join <- subscription{client: c, topic: OrderTopic(orderID)}
	case "leave":
		c.hub.leave <- subscription{client: c, topic: OrderTopic(orderID)}
	default:
		c.sendError("unknown action")
	}
}

// sendError queues an error frame without blocking the read loop.
func (c *Client) sendError(msg string) {
	payload, _ := json.Marshal(map[string]string{"message": msg})
	data, err := json.Marshal(Event{Event: "error", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
// The application runs WritePump in a per-connection goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles WebSocket requests from clients.
// Endpoint: WS /ws/orders?token=JWT
func ServeWS(hub *Hub, authz Authorizer, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	// 1. Extract token from query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// 2. Validate JWT
	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 3. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	// 4. Create client and register with hub
	client := &Client{
		hub:    hub,
		conn:   conn,
		claims: claims,
		authz:  authz,
		send:   make(chan []byte, 256),
	}
	client.hub.register <- client

	// 5. Staff sessions watch the admin broadcast room implicitly; customers
	// must join specific order rooms through authorized join frames.
	if claims.Role == enum.UserRoleAdmin {
		client.hub.join <- subscription{client: client, topic: AdminTopic}
	}

	// 6. Start pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
