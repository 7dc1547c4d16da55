package httpapi

import (
	"html/template"
	"log/slog"
	"net/http"

	"hwid-license-server/internal/lifecycle"
	"hwid-license-server/internal/metrics"
	"hwid-license-server/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type API struct {
	eng      *lifecycle.Engine
	sessions *session.Manager
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	log      *slog.Logger
	validate *validator.Validate
	pages    *template.Template

	secureCookies bool
	trustProxy    bool
}

type Options struct {
	Metrics *metrics.Metrics
	// Limiter throttles the public endpoints; nil disables throttling.
	Limiter *RateLimiter
	Logger  *slog.Logger
	// SecureCookies marks the session cookie Secure (HTTPS deployments).
	SecureCookies bool
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool
}

func New(eng *lifecycle.Engine, sessions *session.Manager, opts Options) *API {
	a := &API{
		eng:           eng,
		sessions:      sessions,
		metrics:       opts.Metrics,
		limiter:       opts.Limiter,
		log:           opts.Logger,
		validate:      validator.New(),
		pages:         parsePages(),
		secureCookies: opts.SecureCookies,
		trustProxy:    opts.TrustProxy,
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.log = a.log.With("component", "http")
	return a
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	if a.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(a.observe)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "Server is alive!")
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Get("/login", a.handleLoginPage)

	r.Group(func(r chi.Router) {
		r.Use(a.throttle)
		r.Post("/login", a.handleLogin)
		r.Post("/register", a.handleRegister)
		r.Post("/check", a.handleCheck)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Get("/admin", a.handleConsole)
		r.Get("/logout", a.handleLogout)
		r.Get("/all", a.handleList)
		r.Post("/activate", a.handleActivate)
		r.Post("/add_days", a.handleAddDays)
		r.Post("/ban", a.handleBan)
		r.Post("/unban", a.handleUnban)
	})
	return r
}
