package httptransport

import (
	"context"
	"expvar"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type RouterDeps struct {
	DB        Pinger
	Collector Collector
	History   SweepHistory
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer    prometheus.Gatherer
	AdminAPIKey string
	// SweepContext bounds sweeps started over HTTP; cancel it on shutdown.
	SweepContext context.Context
}

func NewRouter(deps RouterDeps) *chi.Mux {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.SweepContext == nil {
		deps.SweepContext = context.Background()
	}
	admin := NewAdminHandlers(deps.Collector, deps.History, deps.SweepContext)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", HealthHandler(deps.DB))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	if deps.AdminAPIKey == "" {
		log.Warn().Msg("ADMIN_API_KEY not set; admin routes disabled")
		return r
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Use(AdminAuthMiddleware(deps.AdminAPIKey))
		r.Use(BodyCaptureMiddleware(4096))
		r.Post("/partitions/{partition_id}/cleanup", admin.PartitionCleanup())
		r.Post("/partitions/{partition_id}/guests/cleanup", admin.GuestCleanup())
		r.Post("/sweep", admin.Sweep())
		r.Get("/sweeps/latest", admin.LatestSweep())
		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	})
	return r
}

// LogRoutes logs every registered method and pattern once at startup.
func LogRoutes(r chi.Router) {
	var routes []string
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Strings(routes)
	log.Info().Int("count", len(routes)).Strs("routes", routes).Msg("registered routes")
}
