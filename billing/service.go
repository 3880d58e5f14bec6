package billing

import (
	"context"
	"time"

	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
	"github.com/shopspring/decimal"
)

// Notifier pushes updates to connected clients.
type Notifier interface {
	Publish(subject string, u fanout.Update) int
}

// Config holds the billing rules that come from the environment.
type Config struct {
	Currency        string
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	RefundWindow    time.Duration
	NotificationURL string
	BackURL         string
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "BRL"
	}
	if c.MinAmount.IsZero() {
		c.MinAmount = decimal.NewFromInt(1)
	}
	if c.MaxAmount.IsZero() {
		c.MaxAmount = decimal.NewFromInt(50000)
	}
	if c.RefundWindow <= 0 {
		c.RefundWindow = 7 * 24 * time.Hour
	}
	return c
}

// Deps are the collaborators shared by the billing services.
type Deps struct {
	Store    Store
	Gateway  gateway.API
	Cache    *cache.ResponseCache
	Notifier Notifier
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Config   Config
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) normalize() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	d.Config = d.Config.withDefaults()
	return d
}

func (d Deps) notify(userID string, u fanout.Update) {
	if d.Notifier == nil || userID == "" {
		return
	}
	d.Notifier.Publish(fanout.UserSubject(userID), u)
}

// publish emits a lifecycle event. Failures are logged, never returned.
func (d Deps) publish(ctx context.Context, e events.Event) {
	if err := d.Events.Publish(ctx, e); err != nil {
		logger.Warn("failed to publish event: "+err.Error(), logger.LogContext{
			UserID:    e.UserID,
			Operation: "events.publish",
			Fields:    map[string]any{"type": e.Type, "key": e.Key},
		})
	}
}

func subscriptionCacheKey(userID string) string {
	return "subscription:user:" + userID
}

func (d Deps) invalidateUser(ctx context.Context, userID string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Invalidate(ctx, subscriptionCacheKey(userID)); err != nil {
		logger.Warn("failed to invalidate subscription cache: " + err.Error())
	}
}
