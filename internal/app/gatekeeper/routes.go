package gatekeeper

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/http/handlers/health"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует маршруты сервера вебхуков.
func RegisterRoutes(r chi.Router, logger *slog.Logger, publisher paymentwebhook.Publisher, webhookSecret string) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, rate.NewLimiter(10, 30)))
			r.Post("/payments/webhook", paymentwebhook.New(logger, publisher, webhookSecret).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
