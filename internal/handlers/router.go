package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maherkar/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Route groups mounted under the API base path.
const (
	GroupPlans    = "plans"
	GroupOrders   = "orders"
	GroupPayments = "payments"
	GroupAdmin    = "admin"
	GroupInternal = "internal"
)

var routeGroups = []string{GroupPlans, GroupOrders, GroupPayments, GroupAdmin, GroupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath     string
	maxBodyBytes int64
	middlewares  []func(http.Handler) http.Handler
	health       *HealthHandlers
	groups       map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix    = "/api/v1"
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 1 << 20
	errorNotFoundCode   = "route_not_found"
)

// NewRouter constructs the chi router. Probes live at the root; every route group is mounted
// under the base path and answers 501 until a registrar is supplied.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:     defaultAPIPrefix,
		maxBodyBytes: defaultMaxBodyBytes,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup, len(routeGroups)),
	}
	for _, name := range routeGroups {
		cfg.groups[name] = &routeGroup{}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}
	if cfg.maxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.maxBodyBytes))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Head("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range routeGroups {
			group := cfg.groups[name]
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar != nil {
					group.registrar(sub)
					return
				}
				registerNotImplemented(sub, name)
			})
		}
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
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

// WithBasePath mounts the route groups under prefix instead of /api/v1.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			cfg.basePath = prefix
		}
	}
}

// WithMaxBodyBytes caps request bodies for every route. Zero or less disables the cap.
func WithMaxBodyBytes(limit int64) Option {
	return func(cfg *routerConfig) {
		cfg.maxBodyBytes = limit
	}
}

// WithGroupRoutes sets the registrar for a named route group. Unknown names are ignored.
func WithGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		if group, ok := cfg.groups[name]; ok {
			group.registrar = reg
		}
	}
}

// WithGroupMiddlewares appends middlewares that run only for the named route group.
func WithGroupMiddlewares(name string, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		if group, ok := cfg.groups[name]; ok {
			group.middlewares = append(group.middlewares, mw...)
		}
	}
}

// WithPlanRoutes configures the registrar responsible for the public plan catalogue.
func WithPlanRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupPlans, reg) }

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupOrders, reg) }

// WithPaymentRoutes configures the registrar responsible for the gateway callback.
func WithPaymentRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupPayments, reg) }

// WithAdminRoutes configures the registrar responsible for admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupAdmin, reg) }

// WithInternalRoutes configures the registrar responsible for service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupInternal, reg) }

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return WithGroupMiddlewares(GroupInternal, mw...)
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
