package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/idempotency"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/response"
)

// PaymentService defines the payment operations the handler needs
type PaymentService interface {
	CreatePaymentOrSubscription(ctx context.Context, userID string, req billing.CardPaymentRequest, idemKey string) (*idempotency.Response, error)
	CreatePixPayment(ctx context.Context, userID string, req billing.PixPaymentRequest, idemKey string) (*idempotency.Response, error)
	CreateCheckout(ctx context.Context, userID string, req billing.CheckoutRequest, idemKey string) (*idempotency.Response, error)
	ListPayments(ctx context.Context, userID string, page int) (*billing.PaymentPage, error)
	ListPlans(ctx context.Context) ([]billing.Plan, error)
}

// PaymentRefresher pulls a pending payment's status from the gateway
type PaymentRefresher interface {
	Refresh(ctx context.Context, actor auth.Identity, id string) (*billing.Payment, error)
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	payments  PaymentService
	refresher PaymentRefresher
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentService, refresher PaymentRefresher) *PaymentHandler {
	return &PaymentHandler{
		payments:  payments,
		refresher: refresher,
	}
}

// CreateCardPayment handles card payments and plan subscriptions. The stored
// response is replayed for a repeated X-Idempotency-Key.
func (h *PaymentHandler) CreateCardPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req billing.CardPaymentRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	resp, err := h.payments.CreatePaymentOrSubscription(ctx, id.UserID, req, r.Header.Get(idempotencyHeader))
	writeStored(w, resp, err)
}

// CreatePixPayment handles PIX payments. The QR payload is returned as the
// gateway produced it.
func (h *PaymentHandler) CreatePixPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req billing.PixPaymentRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	resp, err := h.payments.CreatePixPayment(ctx, id.UserID, req, r.Header.Get(idempotencyHeader))
	writeStored(w, resp, err)
}

// CreateCheckout opens a hosted checkout; the payer is sent to the returned
// init point.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req billing.CheckoutRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	resp, err := h.payments.CreateCheckout(ctx, id.UserID, req, r.Header.Get(idempotencyHeader))
	writeStored(w, resp, err)
}

// GetPayment returns a payment, refreshing it from the gateway while pending
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	p, err := h.refresher.Refresh(ctx, id, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Payment retrieved", p)
}

// ListPayments returns the caller's payment history
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	page, err := h.payments.ListPayments(ctx, id.UserID, pageParam(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Payments retrieved", page)
}

// ListPlans returns the purchasable plans. Public.
func (h *PaymentHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	plans, err := h.payments.ListPlans(ctx)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Plans retrieved", plans)
}
