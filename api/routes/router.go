package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tradehub-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/tradehub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tradehub-backend/api/middleware"
	internalwebhooks "github.com/angelmondragon/tradehub-backend/internal/webhooks"
	"github.com/angelmondragon/tradehub-backend/pkg/config"
	"github.com/angelmondragon/tradehub-backend/pkg/logger"
)

// RouterParams groups what the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Payments      webhookcontrollers.PaymentCallbackService
	CallbackGuard *internalwebhooks.IdempotencyGuard
	Gatherer      prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	logg := p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, logg,
			controllers.ReadinessCheck{Name: "db", Pinger: p.DB},
			controllers.ReadinessCheck{Name: "redis", Pinger: p.Redis},
		))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentCallback(p.Payments, callbackGuard(p.CallbackGuard), logg))
	})

	return r
}

// callbackGuard avoids handing the controller a typed nil.
func callbackGuard(g *internalwebhooks.IdempotencyGuard) webhookcontrollers.CallbackGuard {
	if g == nil {
		return nil
	}
	return g
}
