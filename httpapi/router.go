package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/deskflow/authcore"
	promexport "github.com/deskflow/authcore/metrics/export/prometheus"
	"github.com/deskflow/authcore/middleware"
)

const (
	defaultCookieName   = "authcore_refresh"
	defaultMaxBodyBytes = 64 << 10
)

// Options tunes the transport. The zero value is usable.
type Options struct {
	Logger *zap.Logger
	// Registry receives HTTP collectors and the engine collector served on
	// /metrics. A private registry is used when nil.
	Registry *prometheus.Registry

	CookieName   string
	CookieDomain string
	// CookieInsecure drops the Secure attribute. Only for plain-HTTP
	// development.
	CookieInsecure bool

	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool

	// RateLimit is the per-IP request rate on /auth routes, in requests per
	// second. Zero disables it.
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
}

// Handler adapts an Engine to HTTP.
type Handler struct {
	engine *authcore.Engine
	opts   Options
	log    *zap.Logger
}

// NewRouter registers the routes and middleware stack.
func NewRouter(engine *authcore.Engine, opts Options) (http.Handler, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}

	metrics, err := newHTTPMetrics(opts.Registry)
	if err != nil {
		return nil, err
	}
	metricsHandler, err := promexport.Handler(engine, opts.Registry)
	if err != nil {
		return nil, err
	}

	h := &Handler{engine: engine, opts: opts, log: opts.Logger.Named("http")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.log))
	r.Use(loggingMiddleware(h.log, opts.TrustProxy))
	r.Use(metrics.middleware)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/auth", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(newIPLimiter(opts.RateLimit, opts.RateBurst, opts.TrustProxy).middleware)
		}
		r.Use(h.limitBody)

		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
		r.Post("/password/forgot", h.passwordForgot)
		r.Post("/password/reset", h.passwordReset)
		r.Post("/email/verify", h.emailVerify)
		r.Post("/external", h.external)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(engine))
			r.Post("/logout-all", h.logoutAll)
			r.Post("/password/change", h.passwordChange)
			r.Post("/email/verify/request", h.emailVerifyRequest)
			r.Get("/sessions", h.sessions)
		})
	})

	return r, nil
}

func (h *Handler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) client(r *http.Request) authcore.ClientInfo {
	return authcore.ClientInfo{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r, h.opts.TrustProxy),
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    token,
		Path:     "/auth",
		Domain:   h.opts.CookieDomain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   !h.opts.CookieInsecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.opts.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.opts.CookieInsecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(h.opts.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
