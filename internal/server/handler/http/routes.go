package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/keyvault/internal/middleware"
)

// Handlers groups the keystore's route handlers.
type Handlers struct {
	Auth       *AuthHandler
	Keys       *KeyHandler
	Delegation *DelegationHandler
	Share      *ShareHandler
}

// RouterOption tunes NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	trustProxy bool
}

// WithTrustedProxy makes the router take the client IP from
// X-Forwarded-For or X-Real-IP. Enable it only behind a proxy that
// overwrites those headers.
func WithTrustedProxy(trust bool) RouterOption {
	return func(c *routerConfig) { c.trustProxy = trust }
}

// NewRouter constructs and returns an HTTP handler that serves the
// keystore API under /api.
//
// Middleware chain (applied in order):
//  1. RealIP: only with WithTrustedProxy
//  2. RequestID: tags each request
//  3. AllowContentType("application/json"): rejects non-JSON bodies
//  4. WithRequestLogging(logger): logs incoming requests
//
// The /api/srp group is throttled by limiter (when non-nil); every other
// route requires a bearer session token validated by tokens.
func NewRouter(h Handlers, tokens middleware.TokenParser, limiter *middleware.RateLimiter, logger *zap.Logger, opts ...RouterOption) http.Handler {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.trustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Handler)
			}
			r.Post("/srp/users", h.Auth.Register)
			r.Post("/srp/challenges", h.Auth.Challenge)
			r.Post("/srp/sessions", h.Auth.Session)
		})

		// Protected group: requires a session token
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(tokens))

			r.Get("/me", h.Keys.Profile)
			r.Get("/keys/kek", h.Keys.GetKEK)
			r.Put("/keys/kek", h.Keys.PutKEK)
			r.Post("/keys/deks", h.Keys.CreateDEK)
			r.Get("/keys/deks/{id}", h.Keys.GetDEK)
			r.Get("/keys/master", h.Keys.GetMaster)
			r.Put("/keys/master", h.Keys.PutMaster)
			r.Post("/children", h.Keys.CreateChild)
			r.Get("/children/{login}", h.Keys.GetChild)

			r.Post("/delegations", h.Delegation.Open)
			r.Get("/delegations/{token}", h.Delegation.Get)
			r.Post("/delegations/{token}/claim", h.Delegation.Claim)
			r.Post("/delegations/{token}/share", h.Delegation.Share)
			r.Post("/delegations/{token}/reencrypt", h.Delegation.Reencrypt)

			r.Get("/shares/incoming", h.Share.Incoming)
			r.Get("/shares/{id}", h.Share.Get)
			r.Put("/shares/{id}", h.Share.Put)
			r.Get("/items/{id}/shares", h.Share.ListByItem)
		})
	})

	return r
}
