package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/response"
	"github.com/mstgnz/coursepay/infra/validate"
	"github.com/shopspring/decimal"
)

// SubscriptionService defines the lifecycle operations the handler needs
type SubscriptionService interface {
	Get(ctx context.Context, actor auth.Identity, id string) (*billing.Subscription, error)
	GetForUser(ctx context.Context, userID string) (*billing.Subscription, error)
	HasActiveSubscription(ctx context.Context, userID string) (bool, error)
	UpdateStatus(ctx context.Context, actor auth.Identity, id string, to billing.SubscriptionStatus) (*billing.Subscription, error)
	UpdateValue(ctx context.Context, actor auth.Identity, id string, amount decimal.Decimal) (*billing.Subscription, error)
}

// RefundService defines the refund window operations
type RefundService interface {
	CheckEligibility(ctx context.Context, userID string) (*billing.Eligibility, error)
	RequestRefund(ctx context.Context, userID string, amount *decimal.Decimal) (*billing.RefundResult, error)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type valueRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// SubscriptionHandler handles subscription and refund requests
type SubscriptionHandler struct {
	subscriptions SubscriptionService
	refunds       RefundService
}

func NewSubscriptionHandler(subscriptions SubscriptionService, refunds RefundService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, refunds: refunds}
}

// Mine returns the caller's current subscription
func (h *SubscriptionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	s, err := h.subscriptions.GetForUser(ctx, id.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription retrieved", s)
}

// Access reports whether the caller may open paid content
func (h *SubscriptionHandler) Access(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	active, err := h.subscriptions.HasActiveSubscription(ctx, id.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Access checked", map[string]bool{"active": active})
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	s, err := h.subscriptions.Get(ctx, id, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription retrieved", s)
}

// UpdateStatus pauses, resumes or cancels a subscription
func (h *SubscriptionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req statusRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.FromError(w, err)
		return
	}

	s, err := h.subscriptions.UpdateStatus(ctx, id, chi.URLParam(r, "id"), billing.SubscriptionStatus(req.Status))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription status updated", s)
}

// UpdateValue changes the recurring amount
func (h *SubscriptionHandler) UpdateValue(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req valueRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.FromError(w, err)
		return
	}

	s, err := h.subscriptions.UpdateValue(ctx, id, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Subscription value updated", s)
}

func (h *SubscriptionHandler) RefundEligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	e, err := h.refunds.CheckEligibility(ctx, id.UserID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Refund eligibility checked", e)
}

// RequestRefund refunds the caller's latest payment, fully when no amount is sent
func (h *SubscriptionHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req refundRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	res, err := h.refunds.RequestRefund(ctx, id.UserID, req.Amount)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusAccepted, "Refund requested", res)
}
