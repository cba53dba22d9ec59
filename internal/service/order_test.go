package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chunk-bites/api/internal/auth"
	"github.com/chunk-bites/api/internal/database"
	"github.com/chunk-bites/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
	committed   bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	createOrderFn           func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn       func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	getOrderFn              func(ctx context.Context, id uuid.UUID) (database.Order, error)
	updateOrderStatusFn     func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	markPaymentIntentPaidFn func(ctx context.Context, paymentIntentID string) (database.Order, error)
}

func (m *mockOrderStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}
func (m *mockOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	return m.getOrderFn(ctx, id)
}
func (m *mockOrderStore) UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
	return m.updateOrderStatusFn(ctx, arg)
}
func (m *mockOrderStore) MarkPaymentIntentPaid(ctx context.Context, paymentIntentID string) (database.Order, error) {
	return m.markPaymentIntentPaidFn(ctx, paymentIntentID)
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// newTestService creates an OrderService with mocked dependencies.
// store is the mock OrderStore that the NewOrderStore factory returns,
// which makes the tx path and the direct path share one mock.
func newTestService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, store, newStore), tx
}

// defaultStore returns a mockOrderStore with sensible defaults for a basic
// paid order. Individual tests override the functions they care about.
func defaultStore() *mockOrderStore {
	return &mockOrderStore{
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:              uuid.New(),
				CustomerID:      arg.CustomerID,
				Address:         arg.Address,
				City:            arg.City,
				PostalCode:      arg.PostalCode,
				TotalPrice:      arg.TotalPrice,
				Status:          arg.Status,
				PaymentStatus:   arg.PaymentStatus,
				PaymentIntentID: arg.PaymentIntentID,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			return database.OrderItem{
				ID:        uuid.New(),
				OrderID:   arg.OrderID,
				ProductID: arg.ProductID,
				Name:      arg.Name,
				UnitPrice: arg.UnitPrice,
				Quantity:  arg.Quantity,
				Position:  arg.Position,
			}, nil
		},
	}
}

func validCreateRequest() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID:      uuid.New(),
		Address:         "12 Main St",
		City:            "Springfield",
		PostalCode:      "62704",
		PaymentIntentID: "pi_test_123",
		Items: []CreateOrderItemRequest{
			{ProductID: uuid.New().String(), Name: "Margherita Pizza", UnitPrice: "12.50", Quantity: 2},
			{ProductID: uuid.New().String(), Name: "Garlic Bread", UnitPrice: "4.25", Quantity: 1},
		},
	}
}

// --- CreateOrder ---

func TestCreateOrderComputesTotal(t *testing.T) {
	store := defaultStore()
	var created database.CreateOrderParams
	inner := store.createOrderFn
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		created = arg
		return inner(ctx, arg)
	}

	svc, tx := newTestService(store)
	result, err := svc.CreateOrder(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// 2 * 12.50 + 1 * 4.25 = 29.25
	if !numericEquals(created.TotalPrice, "29.25") {
		t.Errorf("total price mismatch: %v", created.TotalPrice)
	}
	if created.Status != enum.OrderStatusPending {
		t.Errorf("expected status pending, got %s", created.Status)
	}
	if created.PaymentStatus != enum.PaymentStatusPaid {
		t.Errorf("expected payment status paid, got %s", created.PaymentStatus)
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(result.Items))
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(r *CreateOrderRequest)
		wantErr error
	}{
		{
			name:    "no items",
			mutate:  func(r *CreateOrderRequest) { r.Items = nil },
			wantErr: ErrEmptyItems,
		},
		{
			name:    "missing address",
			mutate:  func(r *CreateOrderRequest) { r.Address = "" },
			wantErr: ErrMissingAddress,
		},
		{
			name:    "missing city",
			mutate:  func(r *CreateOrderRequest) { r.City = "" },
			wantErr: ErrMissingAddress,
		},
		{
			name:    "missing payment intent",
			mutate:  func(r *CreateOrderRequest) { r.PaymentIntentID = "" },
			wantErr: ErrMissingIntent,
		},
		{
			name:    "zero quantity",
			mutate:  func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			mutate:  func(r *CreateOrderRequest) { r.Items[1].Quantity = -1 },
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "missing item name",
			mutate:  func(r *CreateOrderRequest) { r.Items[0].Name = "" },
			wantErr: ErrMissingItemName,
		},
		{
			name:    "bad product id",
			mutate:  func(r *CreateOrderRequest) { r.Items[0].ProductID = "not-a-uuid" },
			wantErr: ErrInvalidProductID,
		},
		{
			name:    "bad unit price",
			mutate:  func(r *CreateOrderRequest) { r.Items[0].UnitPrice = "twelve" },
			wantErr: ErrInvalidUnitPrice,
		},
		{
			name:    "negative unit price",
			mutate:  func(r *CreateOrderRequest) { r.Items[0].UnitPrice = "-1.00" },
			wantErr: ErrInvalidUnitPrice,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(defaultStore())
			req := validCreateRequest()
			tc.mutate(&req)

			_, err := svc.CreateOrder(context.Background(), req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateOrderItemErrorNamesIndex(t *testing.T) {
	svc, _ := newTestService(defaultStore())
	req := validCreateRequest()
	req.Items[1].Quantity = 0

	_, err := svc.CreateOrder(context.Background(), req)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if !strings.Contains(err.Error(), "items[1]") {
		t.Errorf("error should name the offending item: %v", err)
	}
}

func TestCreateOrderPreservesItemSequence(t *testing.T) {
	store := defaultStore()
	var inserted []database.CreateOrderItemParams
	inner := store.createOrderItemFn
	store.createOrderItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		inserted = append(inserted, arg)
		return inner(ctx, arg)
	}

	svc, _ := newTestService(store)
	req := validCreateRequest()
	req.Items = append(req.Items, CreateOrderItemRequest{
		ProductID: uuid.New().String(), Name: "Tiramisu", UnitPrice: "6.00", Quantity: 1,
	})

	result, err := svc.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(inserted) != 3 {
		t.Fatalf("inserted items: got %d, want 3", len(inserted))
	}
	for i, arg := range inserted {
		if arg.Position != int32(i) {
			t.Errorf("item %q position: got %d, want %d", arg.Name, arg.Position, i)
		}
		if arg.Name != req.Items[i].Name {
			t.Errorf("item %d: got %q, want %q", i, arg.Name, req.Items[i].Name)
		}
	}
	for i, item := range result.Items {
		if item.Name != req.Items[i].Name {
			t.Errorf("result item %d: got %q, want %q", i, item.Name, req.Items[i].Name)
		}
	}
}

func TestCreateOrderDuplicateIntent(t *testing.T) {
	store := defaultStore()
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		return database.Order{}, &pgconn.PgError{
			Code:           "23505",
			ConstraintName: "orders_payment_intent_id_key",
		}
	}

	svc, tx := newTestService(store)
	_, err := svc.CreateOrder(context.Background(), validCreateRequest())
	if !errors.Is(err, ErrDuplicateIntent) {
		t.Fatalf("expected ErrDuplicateIntent, got %v", err)
	}
	if tx.committed {
		t.Error("transaction should not be committed on conflict")
	}
}

func TestCreateOrderOtherUniqueViolationNotMasked(t *testing.T) {
	store := defaultStore()
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"}
	}

	svc, _ := newTestService(store)
	_, err := svc.CreateOrder(context.Background(), validCreateRequest())
	if errors.Is(err, ErrDuplicateIntent) {
		t.Fatal("unrelated unique violation must not map to ErrDuplicateIntent")
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateOrderItemInsertFailure(t *testing.T) {
	store := defaultStore()
	store.createOrderItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		return database.OrderItem{}, errors.New("insert failed")
	}

	svc, tx := newTestService(store)
	_, err := svc.CreateOrder(context.Background(), validCreateRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if tx.committed {
		t.Error("transaction should not be committed when item insert fails")
	}
}

// --- Transition ---

func paidOrder(status string) database.Order {
	return database.Order{
		ID:            uuid.New(),
		Status:        status,
		PaymentStatus: enum.PaymentStatusPaid,
		TotalPrice:    makeNumeric("29.25"),
	}
}

func TestTransitionLegalEdges(t *testing.T) {
	testCases := []struct {
		from string
		to   string
	}{
		{enum.OrderStatusPending, enum.OrderStatusPreparing},
		{enum.OrderStatusPending, enum.OrderStatusCancelled},
		{enum.OrderStatusPreparing, enum.OrderStatusOutForDelivery},
		{enum.OrderStatusOutForDelivery, enum.OrderStatusDelivered},
	}

	for _, tc := range testCases {
		t.Run(tc.from+" to "+tc.to, func(t *testing.T) {
			order := paidOrder(tc.from)
			store := defaultStore()
			store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
				return order, nil
			}
			store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
				if arg.FromStatus != tc.from {
					t.Errorf("conditional write must use the observed status %s, got %s", tc.from, arg.FromStatus)
				}
				updated := order
				updated.Status = arg.Status
				return updated, nil
			}

			svc, _ := newTestService(store)
			updated, err := svc.Transition(context.Background(), order.ID, tc.to)
			if err != nil {
				t.Fatalf("Transition failed: %v", err)
			}
			if updated.Status != tc.to {
				t.Errorf("expected status %s, got %s", tc.to, updated.Status)
			}
		})
	}
}

func TestTransitionIllegalEdges(t *testing.T) {
	testCases := []struct {
		from string
		to   string
	}{
		{enum.OrderStatusPending, enum.OrderStatusOutForDelivery},
		{enum.OrderStatusPending, enum.OrderStatusDelivered},
		{enum.OrderStatusPreparing, enum.OrderStatusCancelled},
		{enum.OrderStatusPreparing, enum.OrderStatusDelivered},
		{enum.OrderStatusPreparing, enum.OrderStatusPending},
		{enum.OrderStatusOutForDelivery, enum.OrderStatusCancelled},
		{enum.OrderStatusDelivered, enum.OrderStatusCancelled},
		{enum.OrderStatusDelivered, enum.OrderStatusPending},
		{enum.OrderStatusCancelled, enum.OrderStatusPreparing},
		{enum.OrderStatusCancelled, enum.OrderStatusPending},
	}

	for _, tc := range testCases {
		t.Run(tc.from+" to "+tc.to, func(t *testing.T) {
			store := defaultStore()
			store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
				return paidOrder(tc.from), nil
			}
			store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
				t.Fatal("illegal edge must never reach the database")
				return database.Order{}, nil
			}

			svc, _ := newTestService(store)
			_, err := svc.Transition(context.Background(), uuid.New(), tc.to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	svc, _ := newTestService(defaultStore())
	_, err := svc.Transition(context.Background(), uuid.New(), "shipped")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestTransitionOrderNotFound(t *testing.T) {
	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}

	svc, _ := newTestService(store)
	_, err := svc.Transition(context.Background(), uuid.New(), enum.OrderStatusPreparing)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionUnpaidOrderBlocked(t *testing.T) {
	order := paidOrder(enum.OrderStatusPending)
	order.PaymentStatus = enum.PaymentStatusPending

	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return order, nil
	}

	svc, _ := newTestService(store)
	_, err := svc.Transition(context.Background(), order.ID, enum.OrderStatusPreparing)
	if !errors.Is(err, ErrOrderUnpaid) {
		t.Fatalf("expected ErrOrderUnpaid, got %v", err)
	}
}

func TestTransitionUnpaidOrderCanCancel(t *testing.T) {
	order := paidOrder(enum.OrderStatusPending)
	order.PaymentStatus = enum.PaymentStatusPending

	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return order, nil
	}
	store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
		updated := order
		updated.Status = arg.Status
		return updated, nil
	}

	svc, _ := newTestService(store)
	updated, err := svc.Transition(context.Background(), order.ID, enum.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancelling an unpaid order should be allowed: %v", err)
	}
	if updated.Status != enum.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", updated.Status)
	}
}

func TestTransitionRaceReturnsConflict(t *testing.T) {
	order := paidOrder(enum.OrderStatusPending)

	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return order, nil
	}
	// Another writer advanced the order between read and conditional write,
	// so the UPDATE matches zero rows.
	store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}

	svc, _ := newTestService(store)
	_, err := svc.Transition(context.Background(), order.ID, enum.OrderStatusPreparing)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

// --- CanWatchOrder ---

func TestCanWatchOrderOwner(t *testing.T) {
	customerID := uuid.New()
	order := paidOrder(enum.OrderStatusPending)
	order.CustomerID = customerID

	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return order, nil
	}

	svc, _ := newTestService(store)
	claims := &auth.Claims{UserID: customerID, Role: enum.UserRoleCustomer}
	if err := svc.CanWatchOrder(context.Background(), claims, order.ID); err != nil {
		t.Fatalf("owner should be allowed: %v", err)
	}
}

func TestCanWatchOrderAdminSkipsLookup(t *testing.T) {
	store := defaultStore()
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		t.Fatal("admin authorization must not hit the database")
		return database.Order{}, nil
	}

	svc, _ := newTestService(store)
	claims := &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleAdmin}
	if err := svc.CanWatchOrder(context.Background(), claims, uuid.New()); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
}

func TestCanWatchOrderForeignAndMissingLookAlike(t *testing.T) {
	order := paidOrder(enum.OrderStatusPending)
	order.CustomerID = uuid.New()

	foreign := defaultStore()
	foreign.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return order, nil
	}
	missing := defaultStore()
	missing.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}

	claims := &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleCustomer}

	svcForeign, _ := newTestService(foreign)
	errForeign := svcForeign.CanWatchOrder(context.Background(), claims, order.ID)
	svcMissing, _ := newTestService(missing)
	errMissing := svcMissing.CanWatchOrder(context.Background(), claims, uuid.New())

	if !errors.Is(errForeign, ErrNotFound) || !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("both cases must return ErrNotFound, got %v and %v", errForeign, errMissing)
	}
}

// --- ReconcilePaymentIntent ---

func TestReconcilePaymentIntent(t *testing.T) {
	store := defaultStore()
	store.markPaymentIntentPaidFn = func(ctx context.Context, paymentIntentID string) (database.Order, error) {
		if paymentIntentID != "pi_test_123" {
			t.Errorf("unexpected intent id: %s", paymentIntentID)
		}
		order := paidOrder(enum.OrderStatusPending)
		order.PaymentIntentID = paymentIntentID
		return order, nil
	}

	svc, _ := newTestService(store)
	order, err := svc.ReconcilePaymentIntent(context.Background(), "pi_test_123")
	if err != nil {
		t.Fatalf("ReconcilePaymentIntent failed: %v", err)
	}
	if order.PaymentStatus != enum.PaymentStatusPaid {
		t.Errorf("expected paid, got %s", order.PaymentStatus)
	}
}

func TestReconcilePaymentIntentNoMatch(t *testing.T) {
	store := defaultStore()
	store.markPaymentIntentPaidFn = func(ctx context.Context, paymentIntentID string) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}

	svc, _ := newTestService(store)
	_, err := svc.ReconcilePaymentIntent(context.Background(), "pi_replayed")
	if !errors.Is(err, ErrNoReconcileMatch) {
		t.Fatalf("expected ErrNoReconcileMatch, got %v", err)
	}
}
