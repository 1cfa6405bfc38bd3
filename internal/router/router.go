package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tabwise-pos/api/internal/config"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/handler"
	mw "github.com/tabwise-pos/api/internal/middleware"
	"github.com/tabwise-pos/api/internal/service"
	"github.com/tabwise-pos/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and outlet scoping middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/outlets/{oid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Services share the pool for transactions and queries for plain reads.
	identity := service.NewUserDirectory(queries)

	orderService := service.NewOrderService(pool,
		func(db database.DBTX) service.OrderStore { return database.New(db) },
		cfg.TaxRate,
	)
	totalsService := service.NewTotalsService(pool,
		func(db database.DBTX) service.TotalsStore { return database.New(db) },
	)
	paymentService := service.NewPaymentService(pool,
		func(db database.DBTX) service.PaymentStore { return database.New(db) },
		hub, identity,
	)
	splitService := service.NewSplitService(pool, queries,
		func(db database.DBTX) service.SplitStore { return database.New(db) },
		hub,
	)
	splitPaymentService := service.NewSplitPaymentService(pool,
		func(db database.DBTX) service.SplitPaymentStore { return database.New(db) },
		hub, identity,
	)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Outlet-scoped routes
		r.Route("/outlets/{oid}", func(r chi.Router) {
			r.Use(mw.RequireOutlet)

			r.Route("/orders", func(r chi.Router) {
				orderHandler := handler.NewOrderHandler(orderService, totalsService, queries)
				orderHandler.RegisterRoutes(r)

				paymentHandler := handler.NewPaymentHandler(paymentService)
				paymentHandler.RegisterRoutes(r)

				splitHandler := handler.NewSplitHandler(splitService, splitPaymentService)
				splitHandler.RegisterRoutes(r)
			})
		})
	})

	return r
}
