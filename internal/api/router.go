package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/api/handler"
	apimw "github.com/relaycore/smsqueue/internal/api/middleware"
	"github.com/relaycore/smsqueue/internal/repository"
	"github.com/relaycore/smsqueue/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.QueueService,
	reconciler *service.Reconciler,
	canceller *service.Canceller,
	repo repository.QueueRepository,
	webhookSecret string,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	qh := handler.NewQueueHandler(svc, canceller, logger)
	cb := handler.NewCallbackHandler(reconciler, webhookSecret, logger)
	sh := handler.NewSnapshotHandler(repo)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Producer surface
		r.Post("/queues/{recipient}/{channel}/messages", qh.Enqueue)
		r.Get("/queues/{recipient}/{channel}", qh.Status)
		r.Get("/entries/{id}", qh.GetEntry)
		r.Delete("/recipients/{recipient}/queue", qh.CancelRecipient)

		// Gateway delivery webhook
		r.Post("/delivery/callback", cb.Receive)

		// JSON state snapshot
		r.Get("/snapshot", sh.GetSnapshot)
	})

	return r
}
