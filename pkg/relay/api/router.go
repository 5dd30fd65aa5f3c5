package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ericyarmo/buds-relay/pkg/ratelimit"
	"github.com/ericyarmo/buds-relay/pkg/relay/api/auth"
	"github.com/ericyarmo/buds-relay/pkg/relay/service"
)

// Endpoint classes for rate limiting.
const (
	endpointSalt     = "salt"
	endpointRegister = "register"
	endpointDevices  = "devices"
	endpointLookup   = "lookup"
	endpointSend     = "send"
	endpointInbox    = "inbox"
)

// NewRateLimiter builds the limiter with the per-endpoint budgets.
// Everything not listed gets the 60/min fallback.
func NewRateLimiter() *ratelimit.Limiter {
	return ratelimit.New(map[string]ratelimit.Limit{
		endpointSalt:     {Requests: 10, Window: time.Minute},
		endpointRegister: {Requests: 5, Window: 5 * time.Minute},
		endpointDevices:  {Requests: 50, Window: time.Minute},
		endpointLookup:   {Requests: 20, Window: time.Minute},
		endpointSend:     {Requests: 100, Window: time.Minute},
		endpointInbox:    {Requests: 200, Window: time.Minute},
	}, ratelimit.Limit{Requests: 60, Window: time.Minute})
}

// NewRouter assembles the chi router with the full middleware stack and
// route table. All /api routes require a verified caller token.
func NewRouter(svc *service.Service, verifier auth.Verifier, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := NewHandlers(svc)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(authenticate(verifier))

		r.With(rateLimit(limiter, endpointSalt)).
			Post("/account/salt", h.Salt)

		r.Route("/devices", func(r chi.Router) {
			r.With(rateLimit(limiter, endpointRegister)).
				Post("/register", h.RegisterDevice)
			r.With(rateLimit(limiter, endpointDevices)).
				Post("/list", h.ListDevices)
			r.With(rateLimit(limiter, "heartbeat")).
				Post("/heartbeat", h.Heartbeat)
		})

		r.Route("/lookup", func(r chi.Router) {
			r.Use(rateLimit(limiter, endpointLookup))
			r.Post("/did", h.LookupDID)
			r.Post("/batch", h.BatchLookupDID)
		})

		r.Route("/messages", func(r chi.Router) {
			r.With(rateLimit(limiter, endpointSend)).
				Post("/send", h.SendMessage)
			r.With(rateLimit(limiter, endpointInbox)).
				Get("/inbox", h.Inbox)
			r.With(rateLimit(limiter, "mark_delivered")).
				Post("/mark-delivered", h.MarkDelivered)
			r.With(rateLimit(limiter, "delete_message")).
				Delete("/{id}", h.DeleteMessage)
		})

		r.Route("/jars", func(r chi.Router) {
			r.With(rateLimit(limiter, "jars_list")).
				Get("/list", h.ListJars)
			r.With(rateLimit(limiter, "receipts_append")).
				Post("/{jar_id}/receipts", h.StoreReceipt)
			r.With(rateLimit(limiter, "receipts_backfill")).
				Get("/{jar_id}/receipts", h.GetReceipts)
		})
	})

	return r
}
