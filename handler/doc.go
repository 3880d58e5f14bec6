// Package handler provides the HTTP handlers of the course payment service.
//
// Handlers decode the request, take the caller from the context set by
// middle.AuthMiddleware and delegate to the billing and dispute services
// through small interfaces. Failures are written with response.FromError,
// which maps apperr kinds onto status codes:
//
//   - validation: 400
//   - forbidden: 403
//   - not found: 404
//   - conflict: 409
//   - business rule: 422
//   - gateway failure: 502
//   - anything else: 500 with a generic message
//
// # Idempotent payments
//
// POST /v1/payments/card, /v1/payments/pix and /v1/payments/checkout require
// X-Idempotency-Key.
// The first request's response (success or client error) is stored and a
// repeated key gets the same status and body back byte for byte:
//
//	POST /v1/payments/card
//	X-Idempotency-Key: 3f1c0e9a-...
//
//	{
//	  "transaction_amount": 49.90,
//	  "token": "card-token",
//	  "payment_method_id": "visa",
//	  "plan_id": "monthly",
//	  "payer": {"email": "student@example.com"}
//	}
//
// A plan_id turns the card payment into a recurring subscription. A checkout
// answers with the gateway's hosted page (init_point) instead of charging.
//
// # Webhooks
//
// POST /webhooks/gateway accepts the gateway's notifications, checks the
// x-signature header when a secret is configured and queues a job keyed by
// the notified resource id. The body is never trusted beyond that id.
package handler
