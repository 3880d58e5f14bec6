package dispute

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/validate"
	"github.com/shopspring/decimal"
)

var chargebackStatuses = map[ChargebackStatus]bool{
	ChargebackNew:              true,
	ChargebackAwaitingEvidence: true,
	ChargebackEvidenceSent:     true,
	ChargebackWon:              true,
	ChargebackLost:             true,
}

func requireAdmin(actor auth.Identity) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("chargebacks are restricted to administrators")
	}
	return nil
}

// ListChargebacks returns one page of chargebacks, optionally filtered by status.
func (m *Mediator) ListChargebacks(ctx context.Context, actor auth.Identity, status string, page int) (*ChargebackPage, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	f := ChargebackFilter{
		Status: ChargebackStatus(strings.ToLower(strings.TrimSpace(status))),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if f.Status != "" && !chargebackStatuses[f.Status] {
		return nil, apperr.Validation("unknown chargeback status %q", status)
	}

	load := func(ctx context.Context) (*ChargebackPage, error) {
		items, total, err := m.Store.ListChargebacks(ctx, f)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Chargeback{}
		}
		return &ChargebackPage{Items: items, Total: total, Page: page, Size: pageSize}, nil
	}
	if m.Cache == nil {
		return load(ctx)
	}

	key, err := m.Cache.VersionedKey(ctx, chargebacksCollection, string(f.Status), strconv.Itoa(page))
	if err != nil {
		return nil, fmt.Errorf("chargebacks cache key: %w", err)
	}
	return cache.GetOrCreate(ctx, m.Cache, key, 0, load)
}

func (m *Mediator) GetChargeback(ctx context.Context, actor auth.Identity, id string) (*Chargeback, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return m.Store.GetChargeback(ctx, id)
}

// UpdateChargeback records the support team's handling of a chargeback.
func (m *Mediator) UpdateChargeback(ctx context.Context, actor auth.Identity, id string, u ChargebackUpdate) (*Chargeback, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validate.Struct(u); err != nil {
		return nil, err
	}

	cb, err := m.Store.GetChargeback(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		cb.Status = ChargebackStatus(*u.Status)
	}
	if u.InternalNotes != nil {
		cb.InternalNotes = strings.TrimSpace(*u.InternalNotes)
	}
	cb.UpdatedAt = m.Now()

	if err := m.Store.UpdateChargeback(ctx, cb); err != nil {
		return nil, err
	}
	m.bump(ctx, chargebacksCollection)
	logger.Info("chargeback "+cb.ExternalID+" updated", logger.LogContext{
		UserID:    actor.UserID,
		Operation: "chargeback.update",
		Fields:    map[string]any{"status": string(cb.Status)},
	})
	return cb, nil
}

// chargebackStatus prefers the coverage outcome and falls back to the
// documentation state.
func chargebackStatus(gc *gateway.Chargeback) ChargebackStatus {
	if s := ChargebackStatus(gateway.MapChargebackStatus(gc.Status)); s != ChargebackNew {
		return s
	}
	return ChargebackStatus(gateway.MapChargebackStatus(gc.Documentation))
}

// SyncChargeback pulls a chargeback from the gateway and stores it. Internal
// notes are never overwritten.
func (m *Mediator) SyncChargeback(ctx context.Context, externalID string) error {
	gc, err := m.Gateway.GetChargeback(ctx, externalID)
	if err != nil {
		return err
	}

	var paymentID string
	if len(gc.Payments) > 0 {
		paymentID = strconv.FormatInt(gc.Payments[0], 10)
	}
	userID, err := m.ownerOf(ctx, paymentID)
	if err != nil {
		return err
	}

	now := m.Now()
	cb := &Chargeback{
		ExternalID:        gc.ID,
		UserID:            userID,
		PaymentExternalID: paymentID,
		Amount:            decimal.NewFromFloat(gc.Amount),
		Currency:          gc.Currency,
		Status:            chargebackStatus(gc),
		CreatedAt:         gc.DateCreated,
		UpdatedAt:         now,
	}
	if cb.Currency == "" {
		cb.Currency = "BRL"
	}
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = now
	}
	if err := m.Store.UpsertChargeback(ctx, cb); err != nil {
		return fmt.Errorf("store chargeback %s: %w", gc.ID, err)
	}

	m.bump(ctx, chargebacksCollection)
	logger.Info("chargeback "+gc.ID+" synced", logger.LogContext{
		UserID:    userID,
		Operation: "chargeback.sync",
		Fields:    map[string]any{"status": string(cb.Status), "payment": paymentID},
	})
	return nil
}
