package v1

import (
	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/handler"
	"github.com/mstgnz/coursepay/infra/middle"
)

// Handlers groups the handlers mounted under /v1.
type Handlers struct {
	Payments      *handler.PaymentHandler
	Subscriptions *handler.SubscriptionHandler
	Disputes      *handler.DisputeHandler
	Logs          *handler.LogsHandler
	Wallet        *handler.WalletHandler
}

// Routes registers all API routes. Everything except the plan catalog
// requires a bearer token; limiter runs after authentication so callers are
// limited by user id.
func Routes(r chi.Router, h Handlers, tokens middle.TokenValidator, limiter *middle.RateLimiter) {
	r.Get("/plans", h.Payments.ListPlans)

	r.Group(func(r chi.Router) {
		r.Use(middle.AuthMiddleware(tokens))
		r.Use(middle.RateLimitMiddleware(limiter))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.Payments.ListPayments)
			r.Post("/card", h.Payments.CreateCardPayment)
			r.Post("/pix", h.Payments.CreatePixPayment)
			r.Post("/checkout", h.Payments.CreateCheckout)
			r.Get("/{id}", h.Payments.GetPayment)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/cards", h.Wallet.ListCards)
			r.Post("/cards", h.Wallet.AddCard)
			r.Delete("/cards/{cardID}", h.Wallet.RemoveCard)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/me", h.Subscriptions.Mine)
			r.Get("/me/access", h.Subscriptions.Access)
			r.Get("/{id}", h.Subscriptions.Get)
			r.Patch("/{id}/status", h.Subscriptions.UpdateStatus)
			r.Patch("/{id}/value", h.Subscriptions.UpdateValue)
		})

		r.Route("/refunds", func(r chi.Router) {
			r.Get("/eligibility", h.Subscriptions.RefundEligibility)
			r.Post("/", h.Subscriptions.RequestRefund)
		})

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", h.Disputes.ListClaims)
			r.Get("/{id}", h.Disputes.GetClaim)
			r.Post("/{id}/reply", h.Disputes.Reply)
			r.Post("/{id}/mediation", h.Disputes.Escalate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middle.RequireAdmin())

			r.Get("/chargebacks", h.Disputes.ListChargebacks)
			r.Get("/chargebacks/{id}", h.Disputes.GetChargeback)
			r.Patch("/chargebacks/{id}", h.Disputes.UpdateChargeback)

			r.Get("/gateway-logs", h.Logs.GatewayCalls)
			r.Get("/gateway-logs/stats", h.Logs.GatewayStats)
		})
	})
}
