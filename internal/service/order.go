package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/chunk-bites/api/internal/auth"
	"github.com/chunk-bites/api/internal/database"
	"github.com/chunk-bites/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Errors returned by the order service.
var (
	ErrEmptyItems        = errors.New("items are required")
	ErrInvalidQuantity   = errors.New("quantity must be > 0")
	ErrInvalidUnitPrice  = errors.New("invalid unit_price")
	ErrInvalidProductID  = errors.New("invalid product_id")
	ErrMissingItemName   = errors.New("item name is required")
	ErrMissingAddress    = errors.New("shipping address is required")
	ErrMissingIntent     = errors.New("payment_intent_id is required")
	ErrDuplicateIntent   = errors.New("payment intent already bound to an order")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderUnpaid       = errors.New("order is not paid yet")
	ErrStatusConflict    = errors.New("order status changed, retry")
	ErrNotFound          = errors.New("order not found")
	ErrNoReconcileMatch  = errors.New("no pending order matches payment intent")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	MarkPaymentIntentPaid(ctx context.Context, paymentIntentID string) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for creating an order.
// The client-confirmed checkout path supplies the payment intent it already
// completed, so the order is created with payment_status=paid.
type CreateOrderRequest struct {
	CustomerID      uuid.UUID
	Address         string
	City            string
	PostalCode      string
	PaymentIntentID string
	Items           []CreateOrderItemRequest
}

// CreateOrderItemRequest is a single item in the order. Name and unit price
// are snapshotted here; later catalog edits do not touch placed orders.
type CreateOrderItemRequest struct {
	ProductID string
	Name      string
	UnitPrice string
	Quantity  int32
}

// CreateOrderResult is the full created order with items.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
}

// OrderService owns the order state machine and both payment write paths.
type OrderService struct {
	pool     TxBeginner
	store    OrderStore
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, store OrderStore, newStore NewOrderStore) *OrderService {
	return &OrderService{pool: pool, store: store, newStore: newStore}
}

// allowedTransitions defines the legal status edges.
// pending -> preparing -> out_for_delivery -> delivered, or pending -> cancelled.
// delivered and cancelled are terminal.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:        {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing:      {enum.OrderStatusOutForDelivery},
	enum.OrderStatusOutForDelivery: {enum.OrderStatusDelivered},
}

// processedItem holds a prepared order item insert.
type processedItem struct {
	params database.CreateOrderItemParams
}

// CreateOrder validates, computes the total from the item snapshot, and
// creates the order and its items in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.Address == "" || req.City == "" || req.PostalCode == "" {
		return nil, ErrMissingAddress
	}
	if req.PaymentIntentID == "" {
		return nil, ErrMissingIntent
	}

	// --- Process items: validate + compute total ---
	total := decimal.Zero
	items := make([]processedItem, 0, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		if item.Name == "" {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrMissingItemName)
		}
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidProductID)
		}
		unitPrice, err := decimal.NewFromString(item.UnitPrice)
		if err != nil || unitPrice.IsNegative() {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidUnitPrice)
		}

		total = total.Add(unitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
		items = append(items, processedItem{
			params: database.CreateOrderItemParams{
				ProductID: productID,
				Name:      item.Name,
				UnitPrice: decimalToNumeric(unitPrice),
				Quantity:  item.Quantity,
				Position:  int32(i),
			},
		})
	}

	// --- Insert order + items atomically ---
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		CustomerID:      req.CustomerID,
		Address:         req.Address,
		City:            req.City,
		PostalCode:      req.PostalCode,
		TotalPrice:      decimalToNumeric(total),
		Status:          enum.OrderStatusPending,
		PaymentStatus:   enum.PaymentStatusPaid,
		PaymentIntentID: req.PaymentIntentID,
	})
	if err != nil {
		if isIntentConflict(err) {
			return nil, ErrDuplicateIntent
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	var itemResults []database.OrderItem
	for _, pi := range items {
		pi.params.OrderID = order.ID
		item, err := store.CreateOrderItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		itemResults = append(itemResults, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: order, Items: itemResults}, nil
}

// Transition applies a status edge. It is the only sanctioned mutator of an
// order's status; staff updates and any future flows must route through it.
// The write itself is conditional on the status the edge was validated
// against, so two racing writers cannot both apply the same edge.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, newStatus string) (database.Order, error) {
	if !isValidOrderStatus(newStatus) {
		return database.Order{}, ErrInvalidStatus
	}

	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}

	if err := validateTransition(current.Status, newStatus); err != nil {
		return database.Order{}, err
	}

	// An order never advances past pending in a customer-visible way until
	// payment is confirmed. Cancellation is allowed regardless.
	if newStatus != enum.OrderStatusCancelled && current.PaymentStatus != enum.PaymentStatusPaid {
		return database.Order{}, ErrOrderUnpaid
	}

	updated, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:         orderID,
		Status:     newStatus,
		FromStatus: current.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another writer advanced the order between our read and write.
			return database.Order{}, ErrStatusConflict
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}
	return updated, nil
}

// ReconcilePaymentIntent is the provider-webhook write path: one atomic
// match-and-set against (payment_intent_id, payment_status=pending). A
// replayed event, or an intent the client path already completed, matches
// nothing and returns ErrNoReconcileMatch; callers treat that as a logged
// no-op, never a failure.
func (s *OrderService) ReconcilePaymentIntent(ctx context.Context, paymentIntentID string) (database.Order, error) {
	order, err := s.store.MarkPaymentIntentPaid(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrNoReconcileMatch
		}
		return database.Order{}, fmt.Errorf("reconcile payment intent: %w", err)
	}
	return order, nil
}

// CanWatchOrder authorizes a realtime subscription to an order's room.
// Staff may watch any order; customers only their own. A missing order and a
// foreign order both return ErrNotFound so a join probe cannot distinguish them.
func (s *OrderService) CanWatchOrder(ctx context.Context, claims *auth.Claims, orderID uuid.UUID) error {
	if claims == nil {
		return ErrNotFound
	}
	if claims.Role == enum.UserRoleAdmin {
		return nil
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get order: %w", err)
	}
	if order.CustomerID != claims.UserID {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// isIntentConflict checks for a unique constraint violation on
// payment_intent_id (pgconn error code 23505).
func isIntentConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_payment_intent_id_key"
	}
	return false
}

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusPreparing,
		enum.OrderStatusOutForDelivery, enum.OrderStatusDelivered,
		enum.OrderStatusCancelled:
		return true
	}
	return false
}

// validateTransition checks if the edge from current to next is legal.
func validateTransition(current, next string) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
