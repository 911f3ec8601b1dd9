package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courtsidehq/authd/internal/access"
	"github.com/courtsidehq/authd/internal/rate"
)

// RateRule is one endpoint's fixed-window budget.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RouteConfig carries everything the router needs beyond the handlers.
type RouteConfig struct {
	CORSOrigins []string
	Metrics     http.Handler

	Limiter      rate.Limiter
	LoginRate    RateRule
	RegisterRate RateRule
	ResetRate    RateRule
	ConsentRate  RateRule
}

// NewRouter assembles the /v1 surface. Middleware order matters: request id
// first so every later log line carries it, recover before anything that can
// panic, metrics outermost-but-one so rejected requests still count.
func NewRouter(h *Handlers, gate *access.Gate, cfg RouteConfig) http.Handler {
	r := chi.NewRouter()

	limited := func(next http.HandlerFunc, rule RateRule) http.Handler {
		return WithRateLimit(next, cfg.Limiter, rule.Limit, rule.Window)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", limited(h.Register, cfg.RegisterRate))
		r.Method(http.MethodPost, "/login", limited(h.Login, cfg.LoginRate))
		r.Post("/refresh-token", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(gate.Require(access.AuthenticatedOnly))
			r.Post("/logout", h.Logout)
			r.Post("/change-password", h.ChangePassword)
			r.Post("/verify-email/start", h.VerifyEmailStart)
		})

		r.Method(http.MethodPost, "/forgot-password", limited(h.ForgotPassword, cfg.ResetRate))
		r.Method(http.MethodPost, "/reset-password", limited(h.ResetPassword, cfg.ResetRate))
		r.Post("/verify-email", h.VerifyEmail)

		// adults only; the gate rejects minors before the handler runs
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(access.Policy{AllowMinors: false}))
			r.Post("/mfa/enable", h.MFAEnable)
		})

		// both the bearer-token and the X-MFA-Token caller land here; only
		// the bearer path goes through the gate
		verify := http.HandlerFunc(h.MFAVerify)
		gatedVerify := gate.Require(access.AuthenticatedOnly)(verify)
		r.Method(http.MethodPost, "/mfa/verify", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-MFA-Token") != "" {
				verify.ServeHTTP(w, req)
				return
			}
			gatedVerify.ServeHTTP(w, req)
		}))

		r.Method(http.MethodPost, "/parental-consent", limited(h.ConsentInitiate, cfg.ConsentRate))
		r.Method(http.MethodPost, "/parental-consent/{id}/verify", limited(h.ConsentVerify, cfg.ConsentRate))

		r.Get("/health", h.Health)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.Readyz)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	var handler http.Handler = r
	handler = WithLogging(handler)
	handler = WithMetrics(handler)
	handler = WithCORS(handler, cfg.CORSOrigins)
	handler = WithSecurityHeaders(handler)
	handler = WithRecover(handler)
	handler = WithRequestID(handler)
	return handler
}
