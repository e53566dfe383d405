package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pickup-checkout/api/controllers"
	"github.com/angelmondragon/pickup-checkout/api/middleware"
	"github.com/angelmondragon/pickup-checkout/internal/payments"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

type RouterParams struct {
	Env      string
	Logger   *logger.Logger
	Payments payments.Service
	// Dependencies are pinged by /healthz. Leave a dependency out when it is
	// not configured.
	Dependencies map[string]controllers.Pinger
	Gatherer     prometheus.Gatherer
}

// NewRouter builds the relay: the gateway's success and failure callbacks,
// health and metrics.
func NewRouter(params RouterParams) http.Handler {
	logg := params.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.HealthReady(params.Env, logg, params.Dependencies))
	r.Get("/health/live", controllers.HealthLive(params.Env))

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/payments", func(r chi.Router) {
		r.Post("/success", controllers.PaymentCallback(enums.PaymentOutcomeSuccess, params.Payments, logg))
		r.Post("/failure", controllers.PaymentCallback(enums.PaymentOutcomeFailure, params.Payments, logg))
	})

	return r
}
