package billing

import (
	"context"
	"time"
)

// SubscriptionStore persists subscriptions. Lookups return an apperr
// NotFound error when nothing matches.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// LatestSubscriptionForUser returns the most recently created one.
	LatestSubscriptionForUser(ctx context.Context, userID string) (*Subscription, error)
	// UpdateSubscription writes s when the stored version equals s.Version
	// and increments it; a mismatch is an apperr Conflict.
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// DeleteSubscription fails with a business error while payments reference it.
	DeleteSubscription(ctx context.Context, id string) error
}

// PaymentStore persists payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*Payment, error)
	ListPaymentsByUser(ctx context.Context, userID string, limit, offset int) ([]Payment, int, error)
	// LatestApprovedPayment returns the newest approved payment of a subscription.
	LatestApprovedPayment(ctx context.Context, subscriptionID string) (*Payment, error)
	// RecordGatewayResult stores what the gateway answered for a payment
	// created locally before the call.
	RecordGatewayResult(ctx context.Context, p *Payment) error
	// UpdatePaymentStatus moves id from -> to and reports false when the
	// stored status is no longer from.
	UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus, approvedAt *time.Time) (bool, error)
}

type PlanStore interface {
	// GetPlan accepts the internal or the public id.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetPlanByExternalID(ctx context.Context, externalID string) (*Plan, error)
	ListActivePlans(ctx context.Context) ([]Plan, error)
}

// CustomerStore links a user to the gateway customer holding their saved
// cards.
type CustomerStore interface {
	// GetCustomerID returns an apperr NotFound error when the user has none.
	GetCustomerID(ctx context.Context, userID string) (string, error)
	SaveCustomerID(ctx context.Context, userID, customerID string) error
}

// Store is everything billing needs from persistence.
type Store interface {
	SubscriptionStore
	PaymentStore
	PlanStore
	CustomerStore
}
