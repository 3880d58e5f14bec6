package billing

import (
	"context"
	"errors"
	"time"

	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/shopspring/decimal"
)

// Eligibility describes whether the user's latest payment can be refunded.
type Eligibility struct {
	Eligible       bool            `json:"eligible"`
	Reason         string          `json:"reason,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
}

type RefundResult struct {
	SubscriptionID string             `json:"subscription_id"`
	PaymentID      string             `json:"payment_id"`
	RefundID       int64              `json:"refund_id"`
	Amount         decimal.Decimal    `json:"amount"`
	Status         SubscriptionStatus `json:"status"`
}

// RefundPolicy enforces the refund window: the latest approved payment of an
// authorized subscription can be refunded within the window after approval,
// boundary included.
type RefundPolicy struct {
	Deps
	lifecycle *Lifecycle
}

func NewRefundPolicy(d Deps, lifecycle *Lifecycle) *RefundPolicy {
	return &RefundPolicy{Deps: d.normalize(), lifecycle: lifecycle}
}

type refundTarget struct {
	sub     *Subscription
	payment *Payment
}

// evaluate returns the refundable target or a business error naming why not.
func (p *RefundPolicy) evaluate(ctx context.Context, s *Subscription) (*refundTarget, error) {
	if s.Status != SubscriptionAuthorized {
		return nil, apperr.Business("only active subscriptions can be refunded")
	}

	payment, err := p.Store.LatestApprovedPayment(ctx, s.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Business("no approved payment to refund")
	}
	if err != nil {
		return nil, err
	}

	cutoff := p.Now().Add(-p.Config.RefundWindow)
	if payment.approvalTime().Before(cutoff) {
		return nil, apperr.Business("the refund window has expired")
	}
	return &refundTarget{sub: s, payment: payment}, nil
}

// CheckEligibility is the read-only variant of RequestRefund.
func (p *RefundPolicy) CheckEligibility(ctx context.Context, userID string) (*Eligibility, error) {
	s, err := p.Store.LatestSubscriptionForUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Eligibility{Reason: "no subscription found"}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Eligibility{SubscriptionID: s.ID}
	target, err := p.evaluate(ctx, s)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindBusiness {
			return nil, err
		}
		out.Reason = apperr.MessageOf(err)
		return out, nil
	}

	approvedAt := target.payment.approvalTime()
	deadline := approvedAt.Add(p.Config.RefundWindow)
	out.Eligible = true
	out.PaymentID = target.payment.ID
	out.Amount = target.payment.Amount
	out.ApprovedAt = &approvedAt
	out.Deadline = &deadline
	return out, nil
}

// RequestRefund refunds the latest approved payment (fully when amount is
// nil) and moves the subscription to refund_pending. Nothing changes locally
// unless the gateway accepted the refund.
func (p *RefundPolicy) RequestRefund(ctx context.Context, userID string, amount *decimal.Decimal) (*RefundResult, error) {
	latest, err := p.Store.LatestSubscriptionForUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Business("no subscription found")
	}
	if err != nil {
		return nil, err
	}

	unlock := p.lifecycle.locks.Lock(latest.ID)
	defer unlock()

	s, err := p.Store.GetSubscription(ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	target, err := p.evaluate(ctx, s)
	if err != nil {
		p.Metrics.IncRefund("rejected")
		return nil, err
	}

	refundAmount := target.payment.Amount
	var gatewayAmount *float64
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(target.payment.Amount) {
			return nil, apperr.Validation("amount must be greater than zero and at most %s", target.payment.Amount.StringFixed(2))
		}
		refundAmount = *amount
		f := amount.InexactFloat64()
		gatewayAmount = &f
	}
	if target.payment.ExternalID == "" {
		return nil, apperr.Business("payment is not linked to the payment gateway")
	}

	refund, err := p.Gateway.RefundPayment(ctx, target.payment.ExternalID, gatewayAmount,
		gateway.DeriveIdempotencyKey("refund", target.payment.ID))
	if err != nil {
		p.Metrics.IncRefund("failed")
		return nil, err
	}

	from := s.Status
	s.Status = SubscriptionRefundPending
	if err := p.lifecycle.save(ctx, s); err != nil {
		// the gateway refund stands; this needs manual follow-up
		logger.Error("refund accepted but subscription update failed", err, logger.LogContext{UserID: userID, Operation: "refund.request"})
		return nil, err
	}
	p.lifecycle.afterTransition(ctx, s, from)
	p.Metrics.IncRefund("requested")

	p.notify(userID, fanout.Update{Type: "refund", Status: string(SubscriptionRefundPending), ResourceID: s.ID})
	p.publish(ctx, events.Event{
		Type:   events.RefundRequested,
		Key:    s.ID,
		UserID: userID,
		Data:   map[string]string{"payment_id": target.payment.ID, "amount": refundAmount.StringFixed(2)},
	})

	return &RefundResult{
		SubscriptionID: s.ID,
		PaymentID:      target.payment.ID,
		RefundID:       refund.ID,
		Amount:         refundAmount,
		Status:         s.Status,
	}, nil
}
