package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/chunk-bites/api/internal/database"
	"github.com/chunk-bites/api/internal/metrics"
	"github.com/chunk-bites/api/internal/middleware"
	"github.com/chunk-bites/api/internal/service"
	"github.com/chunk-bites/api/internal/stripe"
	"github.com/go-chi/chi/v5"
)

// maxWebhookBody caps the raw payload read from the provider.
const maxWebhookBody = 1 << 16

// Reconciler defines the service method the webhook path needs.
// Satisfied by *service.OrderService.
type Reconciler interface {
	ReconcilePaymentIntent(ctx context.Context, paymentIntentID string) (database.Order, error)
}

// IntentCreator is the opaque payment-provider collaborator.
// Satisfied by *stripe.Client.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string) (*stripe.Intent, error)
}

// StripeHandler handles the payment-provider endpoints: intent creation for
// checkout and the asynchronous confirmation webhook.
type StripeHandler struct {
	svc           Reconciler
	store         OrderStore
	intents       IntentCreator
	dispatch      Dispatcher
	metrics       *metrics.Metrics
	webhookSecret string
}

// NewStripeHandler creates a new StripeHandler.
func NewStripeHandler(svc Reconciler, store OrderStore, intents IntentCreator, dispatch Dispatcher, m *metrics.Metrics, webhookSecret string) *StripeHandler {
	return &StripeHandler{
		svc:           svc,
		store:         store,
		intents:       intents,
		dispatch:      dispatch,
		metrics:       m,
		webhookSecret: webhookSecret,
	}
}

// RegisterRoutes registers the authenticated provider endpoints.
// The webhook route is registered separately because it is public and must
// see the raw body.
func (h *StripeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe/create-payment-intent", h.CreatePaymentIntent)
}

// --- Request / Response types ---

type createIntentRequest struct {
	Amount int64 `json:"amount"` // minor units (cents)
}

type createIntentResponse struct {
	ClientSecret string `json:"client_secret"`
}

type webhookAck struct {
	Received bool `json:"received"`
}

// --- Handlers ---

// CreatePaymentIntent handles POST /api/stripe/create-payment-intent.
func (h *StripeHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be > 0"})
		return
	}

	intent, err := h.intents.CreatePaymentIntent(r.Context(), req.Amount, "usd")
	if err != nil {
		log.Printf("ERROR: create payment intent: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, createIntentResponse{ClientSecret: intent.ClientSecret})
}

// Webhook handles POST /api/stripe/webhook.
// Signature verification runs before anything else and fails closed. After
// that the endpoint always acknowledges: reconciliation no-ops are expected
// (client path won the race, replayed event, or the order does not exist
// yet) and must not trigger provider-side retry storms.
func (h *StripeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.metrics.WebhooksBadSignature.Inc()
		log.Printf("SECURITY: webhook signature verification failed: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
		return
	}

	if event.Type != stripe.EventPaymentIntentSucceeded {
		log.Printf("webhook: unhandled event type %s", event.Type)
		writeJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil || intent.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payment intent"})
		return
	}

	order, err := h.svc.ReconcilePaymentIntent(r.Context(), intent.ID)
	if err != nil {
		if errors.Is(err, service.ErrNoReconcileMatch) {
			// Not an error: the conditional write matched nothing.
			h.metrics.WebhooksNoMatch.Inc()
			log.Printf("webhook: no pending order for intent %s, acknowledged as no-op", intent.ID)
			writeJSON(w, http.StatusOK, webhookAck{Received: true})
			return
		}
		log.Printf("ERROR: reconcile intent %s: %v", intent.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.metrics.WebhooksReconciled.Inc()
	log.Printf("webhook: order %s reconciled to paid via intent %s", order.ID, intent.ID)

	items, err := h.store.ListOrderItemsByOrder(r.Context(), order.ID)
	if err != nil {
		// The mutation is committed; notify with what we have.
		log.Printf("ERROR: list items for reconciled order %s: %v", order.ID, err)
		items = nil
	}
	h.dispatch.PaymentReconciled(dbOrderToResponse(order, items))

	writeJSON(w, http.StatusOK, webhookAck{Received: true})
}
