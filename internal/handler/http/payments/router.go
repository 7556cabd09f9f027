package payments_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"reconciler/internal/app/reconcile"
)

func RegisterRoutes(r chi.Router, s reconcile.Service, limiter *SessionLimiter, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "payment_http_handler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Reconciler service is healthy!"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(WithSession)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/reference", handler.BeginCheckoutHandler)
				r.Post("/callback", handler.ConfirmCallbackHandler)
				r.Delete("/", handler.AbandonCheckoutHandler)
			})

			r.Route("/payments", func(r chi.Router) {
				r.Get("/last", handler.LastPaymentHandler)
				r.Post("/{reference}/verify", handler.VerifyPaymentHandler)
				r.Post("/{reference}/recover", handler.AttemptRecoveryHandler)
			})
		})

		r.Patch("/admin/orders/{id}/status", handler.UpdateOrderStatusHandler)
	})
}
