package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/infra/response"
)

// WalletService defines the saved card operations
type WalletService interface {
	ListCards(ctx context.Context, userID string) ([]billing.WalletCard, error)
	AddCard(ctx context.Context, userID string, req billing.AddCardRequest) (*billing.WalletCard, error)
	RemoveCard(ctx context.Context, userID, cardID string) error
}

// WalletHandler handles the caller's saved cards
type WalletHandler struct {
	wallet WalletService
}

func NewWalletHandler(wallet WalletService) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

// ListCards returns the caller's saved cards
func (h *WalletHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	cards, err := h.wallet.ListCards(ctx, id.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Cards retrieved", cards)
}

// AddCard saves a tokenized card
func (h *WalletHandler) AddCard(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req billing.AddCardRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	card, err := h.wallet.AddCard(ctx, id.UserID, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusCreated, "Card saved", card)
}

// RemoveCard deletes a saved card
func (h *WalletHandler) RemoveCard(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.wallet.RemoveCard(ctx, id.UserID, chi.URLParam(r, "cardID")); err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Card removed", nil)
}
