package ws

import (
	"encoding/json"
	"log"

	"github.com/chunk-bites/api/internal/enum"
	"github.com/google/uuid"
)

// Dispatcher computes which topics an order mutation must notify and pushes
// the payloads through the hub. It is constructed once and injected into
// whichever handler mutates orders; there is no shared global.
type Dispatcher struct {
	hub *Hub
}

// NewDispatcher creates a Dispatcher over the given hub.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// statusPayload is the minimal tracking-view payload. The customer room only
// needs the status field; pushing the whole order would leak unrelated data.
type statusPayload struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// OrderCreated notifies all admin dashboards of a new paid order.
func (d *Dispatcher) OrderCreated(order any) {
	d.emit(AdminTopic, enum.EventNewOrder, order)
}

// PaymentReconciled notifies admin dashboards of an order the webhook path
// just confirmed. Treated equivalently to creation for admin visibility.
func (d *Dispatcher) PaymentReconciled(order any) {
	d.emit(AdminTopic, enum.EventNewOrder, order)
}

// StatusChanged notifies the order's own room with the minimal payload and
// the admin room so dashboards track kitchen flow.
func (d *Dispatcher) StatusChanged(orderID uuid.UUID, status string) {
	p := statusPayload{ID: orderID, Status: status}
	d.emit(OrderTopic(orderID), enum.EventOrderStatusUpdate, p)
	d.emit(AdminTopic, enum.EventOrderUpdated, p)
}

// emit is fire-and-forget: a marshal failure is logged and dropped, and
// delivery happens on the hub goroutine, never on the mutating request.
func (d *Dispatcher) emit(topic, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: marshal %s event for %s: %v", name, topic, err)
		return
	}
	d.hub.Broadcast(topic, Event{Topic: topic, Event: name, Payload: data})
}
