package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/shopspring/decimal"
)

// Lifecycle moves subscriptions through their states. Mutations are
// serialized per subscription in process; the store's version check covers
// concurrent writers in other instances. The gateway is always asked first
// and local state changes only after it confirms.
type Lifecycle struct {
	Deps
	locks *keyedMutex
}

func NewLifecycle(d Deps) *Lifecycle {
	return &Lifecycle{Deps: d.normalize(), locks: newKeyedMutex()}
}

// Get returns a subscription the actor may see.
func (l *Lifecycle) Get(ctx context.Context, actor auth.Identity, id string) (*Subscription, error) {
	s, err := l.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(s.UserID) {
		return nil, apperr.Forbidden("not allowed to access this subscription")
	}
	return s, nil
}

// GetForUser returns the user's current subscription, cached until the next
// mutation.
func (l *Lifecycle) GetForUser(ctx context.Context, userID string) (*Subscription, error) {
	if l.Cache == nil {
		return l.Store.LatestSubscriptionForUser(ctx, userID)
	}
	return cache.GetOrCreate(ctx, l.Cache, subscriptionCacheKey(userID), 0, func(ctx context.Context) (*Subscription, error) {
		return l.Store.LatestSubscriptionForUser(ctx, userID)
	})
}

// HasActiveSubscription is the access predicate for course content.
func (l *Lifecycle) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	s, err := l.GetForUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.IsActive(l.Now()), nil
}

// UpdateStatus applies a caller requested status change.
func (l *Lifecycle) UpdateStatus(ctx context.Context, actor auth.Identity, id string, to SubscriptionStatus) (*Subscription, error) {
	if !userSettable[to] {
		return nil, apperr.Validation("status must be one of [authorized paused cancelled]")
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	s, err := l.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if s.Status == to {
		return s, nil
	}
	if !CanTransition(s.Status, to) {
		return nil, apperr.Business("cannot change subscription from %s to %s", s.Status, to)
	}
	if s.ExternalID == "" {
		return nil, apperr.Business("subscription is not linked to the payment gateway yet")
	}

	if _, err := l.Gateway.UpdatePreapproval(ctx, s.ExternalID, gateway.PreapprovalUpdate{Status: string(to)}); err != nil {
		return nil, err
	}

	from := s.Status
	s.Status = to
	if err := l.save(ctx, s); err != nil {
		return nil, err
	}
	l.afterTransition(ctx, s, from)
	return s, nil
}

// UpdateValue changes the recurring amount. Admin only.
func (l *Lifecycle) UpdateValue(ctx context.Context, actor auth.Identity, id string, amount decimal.Decimal) (*Subscription, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can change subscription values")
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	s, err := l.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == SubscriptionCancelled {
		return nil, apperr.Business("cannot change the value of a cancelled subscription")
	}
	if s.ExternalID == "" {
		return nil, apperr.Business("subscription is not linked to the payment gateway yet")
	}

	update := gateway.PreapprovalUpdate{AutoRecurring: &gateway.AutoRecurringUpdate{
		TransactionAmount: amount.InexactFloat64(),
		CurrencyID:        s.Currency,
	}}
	if _, err := l.Gateway.UpdatePreapproval(ctx, s.ExternalID, update); err != nil {
		return nil, err
	}

	s.Amount = amount
	if err := l.save(ctx, s); err != nil {
		return nil, err
	}
	l.invalidateUser(ctx, s.UserID)
	l.notify(s.UserID, fanout.Update{Type: "subscription", Status: string(s.Status), ResourceID: s.ID, Message: "subscription value updated"})
	return s, nil
}

// SyncFromGateway applies the gateway's view of a preapproval when the
// change is a legal transition. Illegal or unknown states are ignored.
func (l *Lifecycle) SyncFromGateway(ctx context.Context, externalID string) error {
	pre, err := l.Gateway.GetPreapproval(ctx, externalID)
	if err != nil {
		return err
	}

	local, err := l.Store.GetSubscriptionByExternalID(ctx, externalID)
	if errors.Is(err, apperr.ErrNotFound) && pre.ExternalReference != "" {
		local, err = l.Store.GetSubscription(ctx, pre.ExternalReference)
	}
	if err != nil {
		// the creating request may not have committed yet; let the job retry
		return fmt.Errorf("load subscription for preapproval %s: %w", externalID, err)
	}

	to := SubscriptionStatus(pre.Status)
	return l.transition(ctx, local.ID, func(s *Subscription) (bool, error) {
		if s.Status == to || !CanTransition(s.Status, to) {
			logger.Debug(fmt.Sprintf("ignoring preapproval %s status %s for subscription in %s", externalID, pre.Status, s.Status))
			return false, nil
		}
		if s.ExternalID == "" {
			s.ExternalID = externalID
		}
		s.Status = to
		return true, nil
	})
}

// transition runs mutate on a fresh copy of the subscription under its lock
// and saves it when mutate reports a change.
func (l *Lifecycle) transition(ctx context.Context, id string, mutate func(s *Subscription) (bool, error)) error {
	unlock := l.locks.Lock(id)
	defer unlock()

	s, err := l.Store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	from := s.Status

	changed, err := mutate(s)
	if err != nil || !changed {
		return err
	}
	if err := l.save(ctx, s); err != nil {
		return err
	}
	l.afterTransition(ctx, s, from)
	return nil
}

func (l *Lifecycle) save(ctx context.Context, s *Subscription) error {
	s.UpdatedAt = l.Now()
	return l.Store.UpdateSubscription(ctx, s)
}

func (l *Lifecycle) afterTransition(ctx context.Context, s *Subscription, from SubscriptionStatus) {
	l.invalidateUser(ctx, s.UserID)

	if from == s.Status {
		l.notify(s.UserID, fanout.Update{Type: "subscription", Status: string(s.Status), ResourceID: s.ID, Message: "subscription renewed"})
		l.publish(ctx, events.Event{
			Type:   events.SubscriptionRenewed,
			Key:    s.ID,
			UserID: s.UserID,
			Data:   map[string]string{"period_end": s.CurrentPeriodEnd.UTC().Format(time.RFC3339)},
		})
		return
	}

	l.Metrics.IncTransition(string(from), string(s.Status))
	logger.Info(fmt.Sprintf("subscription %s: %s -> %s", s.ID, from, s.Status), logger.LogContext{
		UserID:    s.UserID,
		Operation: "subscription.transition",
	})
	l.notify(s.UserID, fanout.Update{Type: "subscription", Status: string(s.Status), ResourceID: s.ID})

	eventType := events.SubscriptionStatus
	if s.Status == SubscriptionAuthorized && from == SubscriptionPending {
		eventType = events.SubscriptionAuthorized
	}
	l.publish(ctx, events.Event{
		Type:   eventType,
		Key:    s.ID,
		UserID: s.UserID,
		Data:   map[string]string{"from": string(from), "to": string(s.Status)},
	})
}
