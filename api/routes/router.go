package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ucstore/ucstore-backend/api/controllers"
	ordercontrollers "github.com/ucstore/ucstore-backend/api/controllers/orders"
	webhookcontrollers "github.com/ucstore/ucstore-backend/api/controllers/webhooks"
	"github.com/ucstore/ucstore-backend/api/middleware"
	"github.com/ucstore/ucstore-backend/internal/catalog"
	"github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/internal/providers"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/logger"
	"github.com/ucstore/ucstore-backend/pkg/metrics"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *providers.Registry
	Payments webhookcontrollers.PaymentIngestor
	Orders   orders.Service
	Catalog  catalog.Service

	// WebhookDedup is optional; without it every retry goes to the ledger.
	WebhookDedup webhookcontrollers.DedupStore

	WebhookMetrics *metrics.WebhookMetrics
	Readiness      map[string]controllers.Pinger
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.CORS(),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Readiness))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/{provider}", webhookcontrollers.ProviderWebhook(params.Registry, params.Payments, params.WebhookDedup, params.WebhookMetrics, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(params.Catalog, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(params.Orders, logg))
			r.Get("/", ordercontrollers.List(params.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Get(params.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(params.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminJWT, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/cancel", controllers.AdminCancelOrder(params.Orders, logg))
			r.Post("/redeliver", controllers.AdminForceRedeliver(params.Orders, logg))
			r.Post("/review", controllers.AdminReviewDecision(params.Orders, logg))
			r.Get("/history", controllers.AdminOrderHistory(params.Orders, logg))
		})
	})

	return r
}
