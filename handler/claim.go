package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/response"
	"github.com/mstgnz/coursepay/infra/validate"
)

// DisputeService defines the claim and chargeback operations
type DisputeService interface {
	ListClaims(ctx context.Context, actor auth.Identity, q dispute.ClaimQuery) (*dispute.ClaimPage, error)
	GetClaimDetail(ctx context.Context, actor auth.Identity, id string) (*dispute.ClaimDetail, error)
	Reply(ctx context.Context, actor auth.Identity, id, message string) (*dispute.Claim, error)
	EscalateToMediation(ctx context.Context, actor auth.Identity, id string) (*dispute.Claim, error)

	ListChargebacks(ctx context.Context, actor auth.Identity, status string, page int) (*dispute.ChargebackPage, error)
	GetChargeback(ctx context.Context, actor auth.Identity, id string) (*dispute.Chargeback, error)
	UpdateChargeback(ctx context.Context, actor auth.Identity, id string, u dispute.ChargebackUpdate) (*dispute.Chargeback, error)
}

type replyRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// DisputeHandler handles claim and chargeback requests
type DisputeHandler struct {
	disputes DisputeService
}

func NewDisputeHandler(disputes DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// ListClaims supports ?search=, ?status= and ?page=
func (h *DisputeHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	q := r.URL.Query()
	page, err := h.disputes.ListClaims(ctx, id, dispute.ClaimQuery{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Page:   pageParam(r),
	})
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Claims retrieved", page)
}

// GetClaim returns the claim with its live message thread
func (h *DisputeHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	detail, err := h.disputes.GetClaimDetail(ctx, id, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Claim retrieved", detail)
}

func (h *DisputeHandler) Reply(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req replyRequest
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		response.FromError(w, err)
		return
	}

	c, err := h.disputes.Reply(ctx, id, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Reply sent", c)
}

func (h *DisputeHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	c, err := h.disputes.EscalateToMediation(ctx, id, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Claim sent to mediation", c)
}

func (h *DisputeHandler) ListChargebacks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	page, err := h.disputes.ListChargebacks(ctx, id, r.URL.Query().Get("status"), pageParam(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Chargebacks retrieved", page)
}

func (h *DisputeHandler) GetChargeback(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	cb, err := h.disputes.GetChargeback(ctx, id, chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Chargeback retrieved", cb)
}

// UpdateChargeback changes the internal status or notes of a chargeback
func (h *DisputeHandler) UpdateChargeback(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	var req dispute.ChargebackUpdate
	if err := decode(r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	cb, err := h.disputes.UpdateChargeback(ctx, id, chi.URLParam(r, "id"), req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusOK, "Chargeback updated", cb)
}
