package billing

import (
	"context"
	"errors"
	"time"

	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/validate"
)

const cardsCacheTTL = 15 * time.Minute

// WalletCard is a saved card as shown to its owner.
type WalletCard struct {
	ID              string `json:"id"`
	LastFourDigits  string `json:"last_four_digits"`
	ExpirationMonth int    `json:"expiration_month"`
	ExpirationYear  int    `json:"expiration_year"`
	PaymentMethodID string `json:"payment_method_id"`
	// SubscriptionCard marks the card the active subscription charges.
	SubscriptionCard bool `json:"is_subscription_card"`
}

// AddCardRequest saves a tokenized card. Email identifies the payer when the
// gateway customer has to be created.
type AddCardRequest struct {
	Token     string `json:"token" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Wallet keeps the saved cards of a user on their gateway customer.
type Wallet struct {
	Deps
	lifecycle *Lifecycle
	locks     *keyedMutex
}

func NewWallet(d Deps, lifecycle *Lifecycle) *Wallet {
	return &Wallet{Deps: d.normalize(), lifecycle: lifecycle, locks: newKeyedMutex()}
}

func cardsCacheKey(customerID string) string {
	return "customer:cards:" + customerID
}

// ListCards returns the user's saved cards; a user without a gateway
// customer has none.
func (w *Wallet) ListCards(ctx context.Context, userID string) ([]WalletCard, error) {
	customerID, err := w.Store.GetCustomerID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return []WalletCard{}, nil
	}
	if err != nil {
		return nil, err
	}

	cards, err := w.customerCards(ctx, customerID)
	if err != nil {
		return nil, err
	}
	sub, err := w.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]WalletCard, 0, len(cards))
	for _, c := range cards {
		out = append(out, toWalletCard(c, sub))
	}
	return out, nil
}

// AddCard saves a card, creating the gateway customer on first use.
func (w *Wallet) AddCard(ctx context.Context, userID string, req AddCardRequest) (*WalletCard, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	unlock := w.locks.Lock(userID)
	defer unlock()

	customerID, err := w.ensureCustomer(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	card, err := w.Gateway.AddCustomerCard(ctx, customerID, req.Token)
	if err != nil {
		return nil, err
	}
	w.invalidateCards(ctx, customerID)

	logger.Info("card saved", logger.LogContext{
		UserID:    userID,
		Operation: "wallet.add_card",
		Fields:    map[string]any{"customer_id": customerID, "card_id": card.ID},
	})
	out := toWalletCard(*card, nil)
	return &out, nil
}

// RemoveCard deletes a saved card unless the active subscription charges it.
func (w *Wallet) RemoveCard(ctx context.Context, userID, cardID string) error {
	customerID, err := w.Store.GetCustomerID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("wallet not found")
	}
	if err != nil {
		return err
	}

	cards, err := w.customerCards(ctx, customerID)
	if err != nil {
		return err
	}
	var card *gateway.CustomerCard
	for i := range cards {
		if cards[i].ID == cardID {
			card = &cards[i]
			break
		}
	}
	if card == nil {
		return apperr.NotFound("card %s not found", cardID)
	}

	sub, err := w.activeSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if chargedBy(*card, sub) {
		return apperr.Business("card is used by the active subscription and cannot be removed")
	}

	if err := w.Gateway.DeleteCustomerCard(ctx, customerID, cardID); err != nil {
		return err
	}
	w.invalidateCards(ctx, customerID)

	logger.Info("card removed", logger.LogContext{
		UserID:    userID,
		Operation: "wallet.remove_card",
		Fields:    map[string]any{"customer_id": customerID, "card_id": cardID},
	})
	return nil
}

// ensureCustomer returns the user's gateway customer. A customer the gateway
// already has for the email is adopted instead of creating a duplicate.
func (w *Wallet) ensureCustomer(ctx context.Context, userID string, req AddCardRequest) (string, error) {
	customerID, err := w.Store.GetCustomerID(ctx, userID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}

	customer, err := w.Gateway.FindCustomerByEmail(ctx, req.Email)
	if err != nil {
		return "", err
	}
	if customer == nil {
		customer, err = w.Gateway.CreateCustomer(ctx, gateway.CustomerRequest{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}, gateway.DeriveIdempotencyKey("customer", userID))
		if err != nil {
			return "", err
		}
	}

	if err := w.Store.SaveCustomerID(ctx, userID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (w *Wallet) customerCards(ctx context.Context, customerID string) ([]gateway.CustomerCard, error) {
	if w.Cache == nil {
		return w.Gateway.ListCustomerCards(ctx, customerID)
	}
	return cache.GetOrCreate(ctx, w.Cache, cardsCacheKey(customerID), cardsCacheTTL, func(ctx context.Context) ([]gateway.CustomerCard, error) {
		return w.Gateway.ListCustomerCards(ctx, customerID)
	})
}

func (w *Wallet) invalidateCards(ctx context.Context, customerID string) {
	if w.Cache == nil {
		return
	}
	if err := w.Cache.Invalidate(ctx, cardsCacheKey(customerID)); err != nil {
		logger.Warn("failed to invalidate card cache: " + err.Error())
	}
}

// activeSubscription returns nil when the user has no subscription granting
// access right now.
func (w *Wallet) activeSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := w.lifecycle.GetForUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !sub.IsActive(w.Now()) {
		return nil, nil
	}
	return sub, nil
}

// chargedBy matches on the last four digits, the only card detail a
// subscription keeps.
func chargedBy(c gateway.CustomerCard, sub *Subscription) bool {
	return sub != nil && sub.LastFourCardDigits != "" && sub.LastFourCardDigits == c.LastFourDigits
}

func toWalletCard(c gateway.CustomerCard, sub *Subscription) WalletCard {
	method := c.PaymentMethod.ID
	if method == "" {
		method = "unknown"
	}
	return WalletCard{
		ID:               c.ID,
		LastFourDigits:   c.LastFourDigits,
		ExpirationMonth:  c.ExpirationMonth,
		ExpirationYear:   c.ExpirationYear,
		PaymentMethodID:  method,
		SubscriptionCard: chargedBy(c, sub),
	}
}
