/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RequestLog: zap access log (method, path, status, bytes, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the console
  5. Auth:       Principal for /api routes only

ROUTE GROUPS:
  /api/stock/*        Organization stock
  /api/allocations/*  Driver allocations
  /api/drivers/*      Per-driver views
  /api/issuances/*    OTP-gated client handoffs
  /api/transfers/*    Driver-to-driver transfers
  /api/returns/*      Returns to stock
  /api/audit          Journal replay
  /healthz            Liveness, no auth

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: Authentication middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/auth"
)

// RouterOptions configures the cross-cutting parts of the router.
type RouterOptions struct {
	Auth        *auth.Authenticator
	CORSOrigins []string
	Log         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth = auth.New("")
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLog(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderOrganization, auth.HeaderActor},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.GetStock)
			r.Post("/add", h.AddStock)
			r.Post("/remove", h.RemoveStock)
			r.Get("/history", h.StockHistory)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", h.ListAllocations)
			r.Post("/", h.Allocate)
		})
		r.Get("/drivers/{id}/allocations", h.DriverAllocations)

		r.Route("/issuances", func(r chi.Router) {
			r.Get("/", h.ListIssuances)
			r.Post("/", h.RequestIssuance)
			r.Post("/{id}/verify", h.VerifyIssuance)
			r.Post("/{id}/resend", h.ResendCode)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/", h.InitiateTransfer)
			r.Post("/{id}/complete", h.CompleteTransfer)
			r.Post("/{id}/fail", h.FailTransfer)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", h.ListReturns)
			r.Post("/", h.ProcessReturn)
		})

		r.Get("/audit", h.Audit)
	})

	return r
}

// RequestLog logs one line per request once the response is written.
func RequestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
