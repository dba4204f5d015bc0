package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wipac/ltacoord/pkg/coordinator"
	"github.com/wipac/ltacoord/pkg/log"
	"github.com/wipac/ltacoord/pkg/metrics"
)

// NewRouter builds the full Coordinator route table (spec.md §6). keyFunc
// resolves the signing key for bearer-token verification; pass a static
// HS256 secret lookup or a JWKS-backed keyfunc depending on deployment.
func NewRouter(coord *coordinator.Coordinator, keyFunc jwt.Keyfunc) http.Handler {
	h := &handlers{coord: coord}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(requestMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type", claimantHeader},
		MaxAge:         300,
	}))

	// Unauthenticated operational endpoints.
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(keyFunc))

		r.Route("/TransferRequests", func(r chi.Router) {
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.listRequests)
			r.With(RequireRole(RoleSystem)).Post("/", h.createRequest)
			r.With(RequireRole(RoleSystem)).Post("/actions/pop", h.popRequest)
			r.Route("/{uuid}", func(r chi.Router) {
				r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.getRequest)
				r.With(RequireRole(RoleSystem)).Patch("/", h.patchRequest)
				r.With(RequireRole(RoleSystem)).Delete("/", h.deleteRequest)
				r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/Bundles", h.listBundlesByRequest)
				r.With(RequireRole(RoleSystem)).Post("/actions/quarantine", h.quarantineRequest)
				r.With(RequireRole(RoleSystem)).Post("/actions/unquarantine", h.unquarantineRequest)
			})
		})

		r.Route("/Bundles", func(r chi.Router) {
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.listBundles)
			r.With(RequireRole(RoleSystem)).Post("/actions/bulk_create", h.bulkCreateBundles)
			r.With(RequireRole(RoleSystem)).Post("/actions/pop", h.popBundle)
			r.Route("/{uuid}", func(r chi.Router) {
				r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.getBundle)
				r.With(RequireRole(RoleSystem)).Patch("/", h.patchBundle)
				r.With(RequireRole(RoleSystem)).Delete("/", h.deleteBundle)
				r.With(RequireRole(RoleSystem)).Post("/actions/quarantine", h.quarantineBundle)
				r.With(RequireRole(RoleSystem)).Post("/actions/unquarantine", h.unquarantineBundle)
			})
		})

		r.Route("/Metadata", func(r chi.Router) {
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.listMetadata)
			r.With(RequireRole(RoleSystem)).Post("/actions/bulk_create", h.bulkCreateMetadata)
			r.With(RequireRole(RoleSystem)).Post("/actions/bulk_delete", h.bulkDeleteMetadata)
		})

		r.Route("/status", func(r chi.Router) {
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/", h.getStatus)
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/nersc", h.getStatusNersc)
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/{component_type}", h.getStatusByComponentType)
			r.With(RequireRole(RoleReadOnly, RoleSystem)).Get("/{component_type}/count", h.getStatusCount)
			r.With(RequireRole(RoleSystem)).Patch("/{component_type}", h.patchStatus)
		})
	})

	return r
}

// requestLogger logs each request at Info with method, path, status, and
// latency, mirroring the teacher's per-RPC interceptor logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}

// requestMetrics records Prometheus counters/histograms per route.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, http.StatusText(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, route)
	})
}
