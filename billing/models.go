// Package billing owns payments and subscriptions: creating them against the
// gateway, moving subscriptions through their lifecycle, reconciling gateway
// notifications and the refund window.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionPending       SubscriptionStatus = "pending"
	SubscriptionAuthorized    SubscriptionStatus = "authorized"
	SubscriptionPaused        SubscriptionStatus = "paused"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionRefundPending SubscriptionStatus = "refund_pending"
)

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "approved"
	PaymentPending  PaymentStatus = "pending"
	PaymentRejected PaymentStatus = "rejected"
	PaymentRefunded PaymentStatus = "refunded"
)

type Subscription struct {
	ID                 string             `json:"id"`
	ExternalID         string             `json:"external_id"`
	UserID             string             `json:"user_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	Amount             decimal.Decimal    `json:"amount"`
	Currency           string             `json:"currency"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	LastFourCardDigits string             `json:"last_four_card_digits,omitempty"`
	PayerEmail         string             `json:"payer_email,omitempty"`
	// LastPaymentID is the payment whose approval produced the current period.
	LastPaymentID      string             `json:"-"`
	Version            int                `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsActive reports whether the subscription grants access at now.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	return (s.Status == SubscriptionAuthorized || s.Status == SubscriptionPaused) &&
		s.CurrentPeriodEnd.After(now)
}

type Payment struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"external_id,omitempty"`
	UserID         string          `json:"user_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	Method         string          `json:"method"`
	Installments   int             `json:"installments"`
	PayerEmail     string          `json:"payer_email,omitempty"`
	LastFourDigits string          `json:"last_four_digits,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// approvalTime is when the payment was approved, falling back to creation.
func (p *Payment) approvalTime() time.Time {
	if p.ApprovedAt != nil {
		return *p.ApprovedAt
	}
	return p.CreatedAt
}

type FrequencyUnit string

const (
	FrequencyDays   FrequencyUnit = "days"
	FrequencyMonths FrequencyUnit = "months"
)

type Plan struct {
	ID                string          `json:"id"`
	PublicID          string          `json:"public_id"`
	ExternalID        string          `json:"-"`
	Name              string          `json:"name"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	FrequencyInterval int             `json:"frequency_interval"`
	FrequencyUnit     FrequencyUnit   `json:"frequency_unit"`
	Active            bool            `json:"active"`
}

// NextPeriodEnd adds one billing cycle to from.
func (p *Plan) NextPeriodEnd(from time.Time) time.Time {
	n := p.FrequencyInterval
	if n <= 0 {
		n = 1
	}
	if p.FrequencyUnit == FrequencyDays {
		return from.AddDate(0, 0, n)
	}
	return from.AddDate(0, n, 0)
}

// transitions lists the legal subscription status changes.
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionPending:       {SubscriptionAuthorized},
	SubscriptionAuthorized:    {SubscriptionPaused, SubscriptionCancelled, SubscriptionRefundPending},
	SubscriptionPaused:        {SubscriptionAuthorized, SubscriptionCancelled},
	SubscriptionRefundPending: {SubscriptionCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// userSettable are the targets a caller may request directly.
var userSettable = map[SubscriptionStatus]bool{
	SubscriptionAuthorized: true,
	SubscriptionPaused:     true,
	SubscriptionCancelled:  true,
}
