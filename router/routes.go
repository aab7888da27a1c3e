package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paymux/paymux/handler"
	"github.com/paymux/paymux/infra/middle"
)

// Deps carries the wired handlers the router mounts
type Deps struct {
	Payments *handler.PaymentHandler
	Webhooks *handler.WebhookHandler
	Plugins  *handler.PluginHandler
	Health   *handler.HealthHandler

	// RateLimiter guards the public webhook surface; nil disables it
	RateLimiter *middle.RateLimiter
}

// New builds the HTTP routing tree. Webhook and health endpoints are
// public; everything under /v1 requires the API key.
func New(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middle.RequestIDMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// probes and metrics stay public
	r.Get("/health", deps.Health.Readiness)
	r.Get("/health/live", deps.Health.Liveness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// providers sign their own deliveries; no API key here
	r.Route("/webhooks", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(middle.RateLimitMiddleware(deps.RateLimiter))
		}
		r.Post("/{provider}", deps.Webhooks.Receive)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middle.AuthMiddleware())

		r.Post("/checkouts", deps.Payments.CreateCheckout)
		r.Post("/payments/{provider}/sessions/{sessionID}/capture", deps.Payments.Capture)
		r.Post("/refunds", deps.Payments.Refund)

		r.Get("/plans", deps.Payments.ListPlans)
		r.Get("/invoices/{invoiceID}", deps.Payments.GetInvoice)

		r.Post("/subscriptions", deps.Payments.CreateSubscription)
		r.Get("/subscriptions/{subscriptionID}", deps.Payments.GetSubscription)
		r.Get("/subscriptions/{subscriptionID}/provider-status", deps.Payments.GetSubscriptionProviderStatus)
		r.Post("/subscriptions/{subscriptionID}/cancel", deps.Payments.CancelSubscription)

		r.Get("/webhooks/{provider}/deliveries", deps.Webhooks.ListDeliveries)
		r.Get("/webhooks/deliveries/{deliveryID}", deps.Webhooks.GetDelivery)

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", deps.Plugins.List)
			r.Get("/{name}", deps.Plugins.Get)
			r.Put("/{name}/config", deps.Plugins.Configure)
			r.Post("/{name}/activate", deps.Plugins.Activate)
			r.Post("/{name}/deactivate", deps.Plugins.Deactivate)
			r.Delete("/{name}", deps.Plugins.Uninstall)
		})
	})

	return r
}
