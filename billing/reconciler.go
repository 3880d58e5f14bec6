package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/shopspring/decimal"
)

// Reconciler applies gateway payment notifications to local state. It never
// trusts the notification body: the payment is always fetched again.
type Reconciler struct {
	Deps
	lifecycle *Lifecycle
	locks     *keyedMutex
}

func NewReconciler(d Deps, lifecycle *Lifecycle) *Reconciler {
	return &Reconciler{Deps: d.normalize(), lifecycle: lifecycle, locks: newKeyedMutex()}
}

// ReconcilePayment is safe to run any number of times for the same payment:
// notifications and events only follow a status change won by
// compare-and-set.
func (r *Reconciler) ReconcilePayment(ctx context.Context, gatewayPaymentID string) error {
	gp, err := r.Gateway.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		return err
	}
	externalID := strconv.FormatInt(gp.ID, 10)

	unlock := r.locks.Lock(externalID)
	defer unlock()

	local, err := r.findOrCreate(ctx, gp, externalID)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	from := local.Status
	to := PaymentStatus(gateway.MapPaymentStatus(gp.Status))
	if !paymentCanMove(from, to) {
		return nil
	}

	approvedAt := local.ApprovedAt
	if to == PaymentApproved {
		at := r.Now()
		if gp.DateApproved != nil {
			at = *gp.DateApproved
		}
		approvedAt = &at
	}

	// The subscription is changed while the payment still shows the old
	// status: if this step fails the retry sees the same move again.
	// LastPaymentID keeps the renewal from being applied twice.
	moved := *local
	moved.Status = to
	moved.ApprovedAt = approvedAt
	if moved.SubscriptionID != "" {
		if err := r.applyToSubscription(ctx, &moved); err != nil {
			return err
		}
	}

	won, err := r.Store.UpdatePaymentStatus(ctx, local.ID, from, to, approvedAt)
	if err != nil {
		return err
	}
	if !won {
		logger.Debug("payment " + local.ID + " already moved by another worker")
		return nil
	}

	logCtx := logger.LogContext{UserID: local.UserID, Operation: "payment.reconcile", Fields: map[string]any{
		"payment_id": local.ID, "external_id": externalID, "from": string(from), "to": string(to),
	}}
	logger.Info("payment status changed", logCtx)

	r.notify(local.UserID, fanout.Update{Type: "payment", Status: string(to), ResourceID: local.ID})
	r.publish(ctx, events.Event{
		Type:   events.PaymentStatusChanged,
		Key:    local.ID,
		UserID: local.UserID,
		Data:   map[string]string{"from": string(from), "to": string(to), "external_id": externalID},
	})
	return nil
}

// paymentCanMove rejects no-ops, downgrades to pending and anything after a
// refund.
func paymentCanMove(from, to PaymentStatus) bool {
	switch {
	case from == to:
		return false
	case from == PaymentRefunded:
		return false
	case to == PaymentPending:
		return false
	}
	return true
}

// findOrCreate locates the local payment by gateway id, then by the local id
// sent as external_reference. Renewal charges the gateway made on its own are
// created here, linked to their subscription. A nil payment means there is
// nothing to reconcile.
func (r *Reconciler) findOrCreate(ctx context.Context, gp *gateway.Payment, externalID string) (*Payment, error) {
	local, err := r.Store.GetPaymentByExternalID(ctx, externalID)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if gp.ExternalReference != "" {
		local, err = r.Store.GetPayment(ctx, gp.ExternalReference)
		switch {
		case err == nil:
			// the webhook beat the creating request's write of the gateway id
			local.ExternalID = externalID
			if err := r.Store.RecordGatewayResult(ctx, local); err != nil {
				return nil, err
			}
			return local, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	preapprovalID := gp.PreapprovalID()
	if preapprovalID == "" {
		logger.Warn("ignoring notification for unknown payment " + externalID)
		return nil, nil
	}

	sub, err := r.Store.GetSubscriptionByExternalID(ctx, preapprovalID)
	if err != nil {
		return nil, fmt.Errorf("subscription for preapproval %s: %w", preapprovalID, err)
	}

	now := r.Now()
	currency := gp.CurrencyID
	if currency == "" {
		currency = sub.Currency
	}
	local = &Payment{
		ID:             newID(),
		ExternalID:     externalID,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Amount:         decimal.NewFromFloat(gp.TransactionAmount),
		Currency:       currency,
		Status:         PaymentPending,
		Method:         gp.PaymentMethodID,
		Installments:   gp.Installments,
		PayerEmail:     gp.Payer.Email,
		LastFourDigits: gp.LastFourDigits(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.Store.CreatePayment(ctx, local); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// a concurrent instance created it first
			return r.Store.GetPaymentByExternalID(ctx, externalID)
		}
		return nil, err
	}
	return local, nil
}

func (r *Reconciler) applyToSubscription(ctx context.Context, p *Payment) error {
	switch p.Status {
	case PaymentApproved:
		return r.lifecycle.transition(ctx, p.SubscriptionID, func(s *Subscription) (bool, error) {
			return r.extendPeriod(ctx, s, p)
		})
	case PaymentRefunded:
		return r.lifecycle.transition(ctx, p.SubscriptionID, func(s *Subscription) (bool, error) {
			if s.Status != SubscriptionRefundPending {
				return false, nil
			}
			s.Status = SubscriptionCancelled
			return true, nil
		})
	}
	return nil
}

// extendPeriod adds one plan cycle to the subscription and authorizes it.
func (r *Reconciler) extendPeriod(ctx context.Context, s *Subscription, p *Payment) (bool, error) {
	if s.LastPaymentID == p.ID {
		return false, nil
	}
	if s.Status == SubscriptionCancelled || s.Status == SubscriptionRefundPending {
		logger.Warn(fmt.Sprintf("approved payment %s for subscription %s in %s, period not extended", p.ID, s.ID, s.Status))
		return false, nil
	}

	plan, err := r.Store.GetPlan(ctx, s.PlanID)
	if err != nil {
		return false, err
	}

	start := *p.ApprovedAt
	if s.CurrentPeriodEnd.After(start) {
		start = s.CurrentPeriodEnd
	}
	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = plan.NextPeriodEnd(start)
	s.LastPaymentID = p.ID
	if p.LastFourDigits != "" {
		s.LastFourCardDigits = p.LastFourDigits
	}
	if s.Status != SubscriptionAuthorized && CanTransition(s.Status, SubscriptionAuthorized) {
		s.Status = SubscriptionAuthorized
	}
	return true, nil
}

// Refresh returns a payment the actor may see, first pulling its status from
// the gateway while it is still pending. It backs clients that missed the push.
func (r *Reconciler) Refresh(ctx context.Context, actor auth.Identity, id string) (*Payment, error) {
	p, err := r.Store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(p.UserID) {
		return nil, apperr.Forbidden("not allowed to access this payment")
	}
	if p.Status != PaymentPending || p.ExternalID == "" {
		return p, nil
	}

	if err := r.ReconcilePayment(ctx, p.ExternalID); err != nil {
		logger.Warn("pull reconciliation failed: "+err.Error(), logger.LogContext{UserID: actor.UserID, Operation: "payment.refresh"})
		return p, nil
	}
	return r.Store.GetPayment(ctx, id)
}
