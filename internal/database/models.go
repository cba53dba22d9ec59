package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// User is an authenticated principal. Customers place orders; admins run the
// kitchen dashboard.
type User struct {
	ID             uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	CreatedAt      time.Time
}

// Order is a placed, priced purchase. Items and address are snapshotted at
// creation; catalog changes afterward never alter historical orders.
type Order struct {
	ID              uuid.UUID
	CustomerID      uuid.UUID
	Address         string
	City            string
	PostalCode      string
	TotalPrice      pgtype.Numeric
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is one line of an order with the unit price frozen at checkout.
// Position is the zero-based index of the line in the submitted cart; reads
// sort by it so the sequence survives the round-trip.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	UnitPrice pgtype.Numeric
	Quantity  int32
	Position  int32
}
