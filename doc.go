// Package coursepay is the payment and subscription backend of a course
// platform. Students pay for access with a card (one-off or as a recurring
// plan) or with PIX; a MercadoPago-style gateway processes the money and tells
// the service about changes through webhooks.
//
// # Architecture
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│  Course apps    │◄──►│   coursepay     │◄──►│    Payment      │
//	│  (web, mobile)  │    │                 │    │    gateway      │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └────────┬────────┘    └─────────────────┘
//	                                │
//	                  Postgres · Redis · Kafka · OpenSearch
//
// # Packages
//
//   - billing: payment orchestration, subscription lifecycle, webhook
//     reconciliation, the refund policy and saved cards
//   - dispute: claims and chargebacks opened on the gateway
//   - gateway: REST client for the payment gateway with retries and audit
//   - idempotency: replay of stored responses for repeated request keys
//   - fanout: websocket push of status changes to the owning user
//   - store/postgres, store/memory: persistence drivers
//   - handler, router: the HTTP surface
//   - infra: configuration, logging, errors, metrics, queue, cache, events
//
// # Money flow
//
// A card payment with a plan id becomes a gateway preapproval (subscription);
// without one it is a single charge. A checkout hands the payer to the
// gateway's hosted page and is settled by webhook like any other payment.
// Every create call carries an X-Idempotency-Key so a client retry never
// charges twice. Webhooks are only a hint: the job behind each notification
// re-reads the resource from the gateway before changing local state, so
// duplicate or reordered notifications converge to the same result.
//
// # Running
//
//	STORAGE_DRIVER=memory GATEWAY_ACCESS_TOKEN=... JWT_SECRET=... go run ./cmd
//
// With STORAGE_DRIVER=postgres (the default) migrations run at startup.
// REDIS_URL moves idempotency records, the response cache and the job queue
// to Redis so several instances can share them.
package coursepay
