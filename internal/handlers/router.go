package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []middlewareFunc
	health      *HealthHandlers

	organization            []RouteRegistrar
	organizationMiddlewares []middlewareFunc
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the order API router: health probes at the root and organization
// scoped resources under /api/v1/organizations/{orgID}.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{basePath: defaultAPIPrefix, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := newBaseRouter(cfg.timeout, cfg.health, append([]middlewareFunc{middleware.RealIP}, cfg.middlewares...))
	r.Route(cfg.basePath+"/organizations/{orgID}", func(org chi.Router) {
		useAll(org, cfg.organizationMiddlewares)
		if len(cfg.organization) == 0 {
			notImplemented(org, "organization")
			return
		}
		for _, registrar := range cfg.organization {
			if registrar != nil {
				registrar(org)
			}
		}
	})
	return r
}

// newBaseRouter is shared by the order API and the terminal agent: request ids, a request
// deadline, JSON fallbacks and the health probes.
func newBaseRouter(timeout time.Duration, health *HealthHandlers, mws []middlewareFunc) chi.Router {
	if health == nil {
		health = NewHealthHandlers()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Timeout(timeout))
	useAll(r, mws)
	installFallbacks(r)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	return r
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithRequestTimeout bounds each request's context.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrganizationRoutes adds a registrar mounted under /organizations/{orgID}.
func WithOrganizationRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.organization = append(cfg.organization, reg)
	}
}

// WithOrganizationMiddlewares configures middlewares applied to the organization group.
func WithOrganizationMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		cfg.organizationMiddlewares = append(cfg.organizationMiddlewares, mw...)
	}
}

func installFallbacks(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}
