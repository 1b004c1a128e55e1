// Package httpapi assembles the storefront HTTP surface: the middleware
// chain and the public, customer, delivery and admin route groups.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/services/cart"
	"github.com/R3E-Network/storefront/services/catalog"
	"github.com/R3E-Network/storefront/services/checkout"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
	"github.com/R3E-Network/storefront/services/images"
	"github.com/R3E-Network/storefront/services/promotions"
	"github.com/R3E-Network/storefront/services/tracking"
	"github.com/R3E-Network/storefront/services/users"
)

// ServiceName labels HTTP metrics.
const ServiceName = "storefront"

// Config wires the router. Services left nil are not mounted.
type Config struct {
	Base    *commonservice.BaseService
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	Catalog    *catalog.Service
	Promotions *promotions.Service
	Cart       *cart.Service
	Checkout   *checkout.Service
	Tracking   *tracking.Service
	Users      *users.Service
	Images     *images.Service
	Hub        *realtime.Hub

	// TokenSecret verifies bearer tokens; Roles adds grants from storage.
	TokenSecret    string
	Roles          middleware.RoleResolver
	AllowedOrigins []string
	Limiter        *middleware.RateLimiter

	// ImageDir, when set, is served under /images/.
	ImageDir     string
	AuditLogPath string
}

// Router is the assembled HTTP handler.
type Router struct {
	handler http.Handler
	audit   *auditLog
	sink    *fileAuditSink
}

// New builds the router.
func New(cfg Config) (*Router, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = middleware.NewRateLimiter(20, 40, cfg.Logger)
	}

	rt := &Router{}
	if cfg.AuditLogPath != "" {
		sink, err := newFileAuditSink(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		rt.sink = sink
		rt.audit = newAuditLog(0, sink, cfg.Logger)
	} else {
		rt.audit = newAuditLog(0, nil, cfg.Logger)
	}

	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, errors.NotFound("route", r.URL.Path))
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	auth := middleware.NewAuthMiddleware(cfg.TokenSecret, cfg.Roles, cfg.Logger, []string{"/healthz", "/metrics"})
	root.Use(middleware.LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		root.Use(middleware.MetricsMiddleware(ServiceName, cfg.Metrics))
	}
	root.Use(auth.Handler, cfg.Limiter.Handler)

	if cfg.Base != nil {
		cfg.Base.RegisterStandardRoutes(root)
	}
	if cfg.Metrics != nil {
		root.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}
	if cfg.Hub != nil {
		root.HandleFunc("/ws/tracking", cfg.Hub.ServeWS).Methods(http.MethodGet)
	}
	if cfg.ImageDir != "" {
		root.PathPrefix("/images/").Handler(http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.ImageDir)))).Methods(http.MethodGet, http.MethodHead)
	}

	api := root.PathPrefix("/api").Subrouter()

	// Group order matters: the admin prefix is registered before the
	// matcher-less groups so it is tried first.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRoles("admin"), rt.audit.middleware)
	admin.HandleFunc("/audit", rt.audit.handleList).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.RequireUserID)

	staff := api.NewRoute().Subrouter()
	staff.Use(middleware.RequireRoles("delivery_person", "admin"), rt.audit.middleware)

	public := api.NewRoute().Subrouter()

	if cfg.Catalog != nil {
		cfg.Catalog.RegisterRoutes(public)
		cfg.Catalog.RegisterAdminRoutes(admin)
	}
	if cfg.Promotions != nil {
		cfg.Promotions.RegisterRoutes(public)
		cfg.Promotions.RegisterAdminRoutes(admin)
	}
	if cfg.Cart != nil {
		cfg.Cart.RegisterRoutes(public)
	}
	if cfg.Checkout != nil {
		cfg.Checkout.RegisterRoutes(public)
		cfg.Checkout.RegisterUserRoutes(authed)
		cfg.Checkout.RegisterAdminRoutes(admin)
	}
	if cfg.Tracking != nil {
		cfg.Tracking.RegisterRoutes(public)
		cfg.Tracking.RegisterDeliveryRoutes(staff)
	}
	if cfg.Users != nil {
		cfg.Users.RegisterRoutes(public)
		cfg.Users.RegisterAdminRoutes(admin)
	}
	if cfg.Images != nil {
		cfg.Images.RegisterAdminRoutes(admin)
	}

	// CORS answers preflights before routing; mux only runs middleware on
	// matched routes.
	var h http.Handler = root
	h = middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler(h)
	h = middleware.NewTracingMiddleware(cfg.Logger).Handler(h)
	h = middleware.Recovery(cfg.Logger)(h)
	rt.handler = h
	return rt, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Close releases the audit sink.
func (rt *Router) Close() error {
	if rt.sink != nil {
		return rt.sink.Close()
	}
	return nil
}
