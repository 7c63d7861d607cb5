package api

import (
	"net/http"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/db"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/health"
	"github.com/gatherly/backend/internal/hobbies"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/metrics"
	"github.com/gatherly/backend/internal/middleware"
	"github.com/gatherly/backend/internal/search"
	"github.com/gatherly/backend/internal/storage"
	"github.com/gatherly/backend/internal/users"
	"github.com/gatherly/backend/internal/venues"
	"github.com/gatherly/backend/internal/websocket"
)

const maxJSONBody = 1 << 20

// Handlers groups the per-package HTTP handlers the router mounts.
type Handlers struct {
	Auth    *auth.Handlers
	Users   *users.Handlers
	Events  *events.Handlers
	Venues  *venues.Handlers
	Hobbies *hobbies.Handlers
	Search  *search.Handlers
	Health  *health.Handler
	WS      *websocket.Handler
}

type Config struct {
	AuthService *auth.Service
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	Logger      *logger.Logger
	CORSOrigins []string
}

type Router struct {
	mux     *http.ServeMux
	h       Handlers
	cfg     Config
	handler http.Handler
}

func NewRouter(h Handlers, cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	r := &Router{
		mux: http.NewServeMux(),
		h:   h,
		cfg: cfg,
	}
	r.setupRoutes()

	stack := []func(http.Handler) http.Handler{
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(cfg.Logger),
		middleware.Logging(cfg.Logger),
	}
	if cfg.Metrics != nil {
		stack = append(stack, metrics.MetricsMiddleware(cfg.Metrics))
	}
	stack = append(stack,
		middleware.CORS(cfg.CORSOrigins),
		middleware.Timing(cfg.Logger),
		middleware.Gzip,
		middleware.ETag,
	)
	r.handler = middleware.Chain(r.mux, stack...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	if r.h.Health != nil {
		r.mux.HandleFunc("GET /health", r.h.Health.HealthHandler)
		r.mux.HandleFunc("GET /health/live", r.h.Health.LivenessHandler)
		r.mux.HandleFunc("GET /health/ready", r.h.Health.ReadinessHandler)
	}
	if r.cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", r.cfg.Metrics.Handler())
	}

	// Auth routes (rate limited, no auth required)
	a := r.h.Auth
	r.mux.Handle("POST /api/v1/users/register", r.limited(a.RegisterUser))
	r.mux.Handle("POST /api/v1/business-clients/register", r.limited(a.RegisterBusinessClient))
	r.mux.Handle("POST /api/v1/users/login", r.limited(a.Login))
	r.mux.Handle("POST /api/v1/users/refresh", r.limited(a.Refresh))
	r.mux.Handle("POST /api/v1/auth/refresh", r.limited(a.Refresh))
	r.mux.Handle("POST /api/v1/users/logout", r.withAuth(a.Logout))

	// Own account
	u := r.h.Users
	r.mux.Handle("GET /api/v1/users/me", r.withAuth(u.Me))
	r.mux.Handle("PUT /api/v1/users/me", r.withAuth(u.UpdateMe))
	r.mux.Handle("DELETE /api/v1/users/me", r.withAuth(u.DeleteMe))
	r.mux.Handle("PUT /api/v1/users/me/hobbies", r.withKind(db.KindRegularUser, u.SetHobbies))
	r.mux.Handle("GET /api/v1/business-clients/me", r.withKind(db.KindBusinessClient, u.Me))
	r.mux.Handle("PUT /api/v1/business-clients/me", r.withKind(db.KindBusinessClient, u.UpdateMe))

	r.mux.Handle("GET /api/v1/hobbies", apperrors.HandleFunc(r.h.Hobbies.List))

	// Events
	e := r.h.Events
	r.mux.Handle("GET /api/v1/events", apperrors.HandleFunc(e.List))
	r.mux.Handle("GET /api/v1/events/{id}", apperrors.HandleFunc(e.Get))
	r.mux.Handle("POST /api/v1/events", r.withAuth(e.Create))
	r.mux.Handle("PUT /api/v1/events/{id}", r.withAuth(e.Update))
	r.mux.Handle("DELETE /api/v1/events/{id}", r.withAuth(e.Delete))
	r.mux.Handle("POST /api/v1/events/{id}/signup", r.withKind(db.KindRegularUser, e.SignUp))
	r.mux.Handle("DELETE /api/v1/events/{id}/signup", r.withKind(db.KindRegularUser, e.CancelSignUp))
	r.mux.Handle("GET /api/v1/events/{id}/cover", apperrors.HandleFunc(e.Cover))
	r.mux.Handle("PUT /api/v1/events/{id}/cover", r.withUpload(e.SetCover))
	r.mux.Handle("GET /api/v1/users/me/events", r.withAuth(e.ListMine))
	r.mux.Handle("DELETE /api/v1/users/me/events", r.withAuth(e.DeleteMine))
	r.mux.Handle("GET /api/v1/users/me/signups", r.withKind(db.KindRegularUser, e.ListSignups))

	// Venues
	v := r.h.Venues
	r.mux.Handle("GET /api/v1/venues", apperrors.HandleFunc(v.List))
	r.mux.Handle("GET /api/v1/venues/{id}", apperrors.HandleFunc(v.Get))
	r.mux.Handle("POST /api/v1/venues", r.withKind(db.KindBusinessClient, v.Create))
	r.mux.Handle("PUT /api/v1/venues/{id}", r.withAuth(v.Update))
	r.mux.Handle("DELETE /api/v1/venues/{id}", r.withAuth(v.Delete))
	r.mux.Handle("GET /api/v1/venues/{id}/photo", apperrors.HandleFunc(v.Photo))
	r.mux.Handle("PUT /api/v1/venues/{id}/photo", r.withUpload(v.SetPhoto))
	r.mux.Handle("GET /api/v1/business-clients/me/venues", r.withKind(db.KindBusinessClient, v.ListMine))

	if r.h.Search != nil {
		r.mux.Handle("GET /api/v1/search/events", apperrors.HandleFunc(r.h.Search.SearchEvents))
		r.mux.Handle("GET /api/v1/search/venues", apperrors.HandleFunc(r.h.Search.SearchVenues))
	}

	if r.h.WS != nil {
		r.mux.HandleFunc("GET /api/v1/ws", r.h.WS.ServeWS)
	}
}

func (r *Router) withAuth(next apperrors.Handler) http.Handler {
	return middleware.Chain(apperrors.HandleFunc(next),
		auth.Middleware(r.cfg.AuthService),
		middleware.MaxBodyBytes(maxJSONBody),
	)
}

func (r *Router) withKind(kind db.AccountKind, next apperrors.Handler) http.Handler {
	return middleware.Chain(apperrors.HandleFunc(next),
		auth.Middleware(r.cfg.AuthService),
		auth.RequireKind(kind),
		middleware.MaxBodyBytes(maxJSONBody),
	)
}

// withUpload allows an image plus multipart overhead.
func (r *Router) withUpload(next apperrors.Handler) http.Handler {
	return middleware.Chain(apperrors.HandleFunc(next),
		auth.Middleware(r.cfg.AuthService),
		middleware.MaxBodyBytes(storage.MaxImageBytes+1<<20),
	)
}

func (r *Router) limited(next apperrors.Handler) http.Handler {
	h := middleware.Chain(apperrors.HandleFunc(next), middleware.MaxBodyBytes(maxJSONBody))
	if r.cfg.RateLimiter == nil {
		return h
	}
	return r.cfg.RateLimiter.Middleware(h)
}
