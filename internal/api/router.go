package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/receiptsearch/internal/api/handlers"
	"github.com/nikhilbhutani/receiptsearch/internal/api/middleware"
	"github.com/nikhilbhutani/receiptsearch/internal/auth"
	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/intake"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
)

// Router wires the HTTP surface: upload intake, status, search, and the
// object-store event webhook. All pipeline logic lives behind the services;
// handlers stay thin pass-throughs.
type Router struct {
	mux    *chi.Mux
	db     *pgxpool.Pool
	redis  *redis.Client
	cfg    *config.Config
	intake *intake.Service
	index  search.Index
	jwt    *auth.JWTMiddleware
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, svc *intake.Service, index search.Index, jwt *auth.JWTMiddleware) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		db:     db,
		redis:  rdb,
		cfg:    cfg,
		intake: svc,
		index:  index,
		jwt:    jwt,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Bucket notification webhook; reachable by the object store only, not
	// routed through user auth.
	events := handlers.NewEventHandler(rt.intake)
	r.Post("/internal/events/object-created", events.ObjectCreated)

	receiptH := handlers.NewReceiptHandler(rt.intake)
	searchH := handlers.NewSearchHandler(rt.index)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		r.Route("/receipts", func(r chi.Router) {
			r.Post("/upload-request", receiptH.RequestUpload)
			r.Get("/{id}/status", receiptH.Status)
		})

		r.Post("/search", searchH.Search)
		r.Get("/users/me/quota", receiptH.Quota)
	})

	return r
}
