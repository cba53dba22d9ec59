package router

import (
	"log"
	"net/http"

	"github.com/chunk-bites/api/internal/config"
	"github.com/chunk-bites/api/internal/database"
	"github.com/chunk-bites/api/internal/enum"
	"github.com/chunk-bites/api/internal/handler"
	"github.com/chunk-bites/api/internal/metrics"
	mw "github.com/chunk-bites/api/internal/middleware"
	"github.com/chunk-bites/api/internal/service"
	"github.com/chunk-bites/api/internal/stripe"
	"github.com/chunk-bites/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
// The order service and the websocket dispatcher are constructed here and
// injected into the handlers that mutate orders.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",      // Vite dev server
			"https://chunkbites.com",     // Production storefront
			"https://www.chunkbites.com", // Production storefront (www)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	r.Method("GET", "/metrics", m.Handler())

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// Shared collaborators
	newOrderStore := func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}
	orderService := service.NewOrderService(pool, queries, newOrderStore)
	dispatcher := ws.NewDispatcher(hub)
	stripeClient := stripe.NewClient(cfg.StripeSecretKey)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, orderService, cfg.JWTSecret, w, r)
	})

	orderHandler := handler.NewOrderHandler(orderService, queries, dispatcher, m)
	stripeHandler := handler.NewStripeHandler(orderService, queries, stripeClient, dispatcher, m, cfg.StripeWebhookSecret)

	// Provider webhook: public, signature-verified, needs the raw body
	r.Post("/api/stripe/webhook", stripeHandler.Webhook)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/api", func(r chi.Router) {
			stripeHandler.RegisterRoutes(r)

			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)

				// Staff-only order routes
				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.UserRoleAdmin))
					orderHandler.RegisterAdminRoutes(r)
				})
			})
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
