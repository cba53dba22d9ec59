package enum

// ── Order lifecycle (CHECK constrained in DB) ──

const (
	OrderStatusPending        = "pending"
	OrderStatusPreparing      = "preparing"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// ── Principals ──

const (
	UserRoleCustomer = "customer"
	UserRoleAdmin    = "admin"
)

// ── Real-time events pushed over the websocket ──

const (
	EventNewOrder          = "new_order"
	EventOrderUpdated      = "order_updated"
	EventOrderStatusUpdate = "order_status_update"
)
