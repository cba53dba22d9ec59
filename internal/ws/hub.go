package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// AdminTopic is the broadcast channel every staff dashboard session watches.
const AdminTopic = "admin:orders"

// OrderTopic names the room for one order's tracking view.
func OrderTopic(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// Event is one message pushed to a session.
type Event struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// subscription is an internal join/leave request for one client and topic.
type subscription struct {
	client *Client
	topic  string
}

// topicEvent is an internal struct for routing events to a topic's room.
type topicEvent struct {
	Topic string
	Event Event
}

// Hub maintains the topic rooms and broadcasts messages to their members.
// Membership is mutated only from the Run goroutine; the mutex guards the
// read side used by dispatch and tests.
type Hub struct {
	// Live sessions by topic
	rooms map[string]map[*Client]bool

	// Inbound lifecycle messages from clients
	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription

	// Outbound messages to broadcast
	broadcast chan *topicEvent

	// Sessions, when set before Run, tracks connected session count.
	Sessions prometheus.Gauge

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		leave:      make(chan subscription),
		broadcast:  make(chan *topicEvent, 256),
	}
}

// Run starts the hub's main loop.
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			client.topics = make(map[string]bool)
			h.mu.Unlock()
			if h.Sessions != nil {
				h.Sessions.Inc()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropSessionLocked(client)
			h.mu.Unlock()

		case sub := <-h.join:
			h.mu.Lock()
			if h.rooms[sub.topic] == nil {
				h.rooms[sub.topic] = make(map[*Client]bool)
			}
			if sub.client.topics == nil {
				sub.client.topics = make(map[string]bool)
			}
			// Idempotent: re-joining an already joined topic is a no-op.
			h.rooms[sub.topic][sub.client] = true
			sub.client.topics[sub.topic] = true
			h.mu.Unlock()

		case sub := <-h.leave:
			h.mu.Lock()
			h.removeFromRoomLocked(sub.client, sub.topic)
			delete(sub.client.topics, sub.topic)
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.Topic]

			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full. Drop the whole session so
					// a dead subscriber never delays the writer.
					h.dropSessionLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// dropSessionLocked removes the session from every topic it belongs to and
// closes its send channel. Called on disconnect so stale memberships never
// accumulate. Callers must hold h.mu.
func (h *Hub) dropSessionLocked(client *Client) {
	if client.topics == nil {
		return
	}
	for topic := range client.topics {
		h.removeFromRoomLocked(client, topic)
	}
	client.topics = nil
	close(client.send)
	if h.Sessions != nil {
		h.Sessions.Dec()
	}
}

// removeFromRoomLocked deletes the client from one room, cleaning up the
// room when it empties. Callers must hold h.mu.
func (h *Hub) removeFromRoomLocked(client *Client, topic string) {
	clients, ok := h.rooms[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, topic)
	}
}

// Broadcast sends an event to all sessions currently in the topic's room.
// Delivery is fire-and-forget relative to the caller: the event is queued on
// a buffered channel and pushed by the hub goroutine.
func (h *Hub) Broadcast(topic string, event Event) {
	h.broadcast <- &topicEvent{Topic: topic, Event: event}
}

// MembersOf returns the number of live sessions in a topic's room.
func (h *Hub) MembersOf(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}
