package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/idempotency"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/opensearch"
	"github.com/mstgnz/coursepay/infra/postgres"
	"github.com/mstgnz/coursepay/infra/queue"
	"github.com/mstgnz/coursepay/infra/response"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	student = auth.Identity{UserID: "u1", Role: auth.RoleStudent}
	admin   = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
)

// newRequest builds a request carrying the caller and chi URL params given
// as name, value pairs.
func newRequest(method, target, body string, caller *auth.Identity, params ...string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")

	ctx := req.Context()
	if caller != nil {
		ctx = auth.WithIdentity(ctx, *caller)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

type mockPaymentService struct {
	CreateCardFunc   func(ctx context.Context, userID string, req billing.CardPaymentRequest, key string) (*idempotency.Response, error)
	CreatePixFunc    func(ctx context.Context, userID string, req billing.PixPaymentRequest, key string) (*idempotency.Response, error)
	CheckoutFunc     func(ctx context.Context, userID string, req billing.CheckoutRequest, key string) (*idempotency.Response, error)
	ListPaymentsFunc func(ctx context.Context, userID string, page int) (*billing.PaymentPage, error)
	ListPlansFunc    func(ctx context.Context) ([]billing.Plan, error)
}

func (m *mockPaymentService) CreatePaymentOrSubscription(ctx context.Context, userID string, req billing.CardPaymentRequest, key string) (*idempotency.Response, error) {
	return m.CreateCardFunc(ctx, userID, req, key)
}

func (m *mockPaymentService) CreatePixPayment(ctx context.Context, userID string, req billing.PixPaymentRequest, key string) (*idempotency.Response, error) {
	return m.CreatePixFunc(ctx, userID, req, key)
}

func (m *mockPaymentService) CreateCheckout(ctx context.Context, userID string, req billing.CheckoutRequest, key string) (*idempotency.Response, error) {
	return m.CheckoutFunc(ctx, userID, req, key)
}

func (m *mockPaymentService) ListPayments(ctx context.Context, userID string, page int) (*billing.PaymentPage, error) {
	return m.ListPaymentsFunc(ctx, userID, page)
}

func (m *mockPaymentService) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	return m.ListPlansFunc(ctx)
}

type mockRefresher struct {
	RefreshFunc func(ctx context.Context, actor auth.Identity, id string) (*billing.Payment, error)
}

func (m *mockRefresher) Refresh(ctx context.Context, actor auth.Identity, id string) (*billing.Payment, error) {
	return m.RefreshFunc(ctx, actor, id)
}

type mockSubscriptionService struct {
	GetFunc          func(ctx context.Context, actor auth.Identity, id string) (*billing.Subscription, error)
	GetForUserFunc   func(ctx context.Context, userID string) (*billing.Subscription, error)
	HasActiveFunc    func(ctx context.Context, userID string) (bool, error)
	UpdateStatusFunc func(ctx context.Context, actor auth.Identity, id string, to billing.SubscriptionStatus) (*billing.Subscription, error)
	UpdateValueFunc  func(ctx context.Context, actor auth.Identity, id string, amount decimal.Decimal) (*billing.Subscription, error)
}

func (m *mockSubscriptionService) Get(ctx context.Context, actor auth.Identity, id string) (*billing.Subscription, error) {
	return m.GetFunc(ctx, actor, id)
}

func (m *mockSubscriptionService) GetForUser(ctx context.Context, userID string) (*billing.Subscription, error) {
	return m.GetForUserFunc(ctx, userID)
}

func (m *mockSubscriptionService) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	return m.HasActiveFunc(ctx, userID)
}

func (m *mockSubscriptionService) UpdateStatus(ctx context.Context, actor auth.Identity, id string, to billing.SubscriptionStatus) (*billing.Subscription, error) {
	return m.UpdateStatusFunc(ctx, actor, id, to)
}

func (m *mockSubscriptionService) UpdateValue(ctx context.Context, actor auth.Identity, id string, amount decimal.Decimal) (*billing.Subscription, error) {
	return m.UpdateValueFunc(ctx, actor, id, amount)
}

type mockRefundService struct {
	CheckFunc   func(ctx context.Context, userID string) (*billing.Eligibility, error)
	RequestFunc func(ctx context.Context, userID string, amount *decimal.Decimal) (*billing.RefundResult, error)
}

func (m *mockRefundService) CheckEligibility(ctx context.Context, userID string) (*billing.Eligibility, error) {
	return m.CheckFunc(ctx, userID)
}

func (m *mockRefundService) RequestRefund(ctx context.Context, userID string, amount *decimal.Decimal) (*billing.RefundResult, error) {
	return m.RequestFunc(ctx, userID, amount)
}

type mockDisputeService struct {
	ListClaimsFunc       func(ctx context.Context, actor auth.Identity, q dispute.ClaimQuery) (*dispute.ClaimPage, error)
	GetClaimDetailFunc   func(ctx context.Context, actor auth.Identity, id string) (*dispute.ClaimDetail, error)
	ReplyFunc            func(ctx context.Context, actor auth.Identity, id, message string) (*dispute.Claim, error)
	EscalateFunc         func(ctx context.Context, actor auth.Identity, id string) (*dispute.Claim, error)
	ListChargebacksFunc  func(ctx context.Context, actor auth.Identity, status string, page int) (*dispute.ChargebackPage, error)
	GetChargebackFunc    func(ctx context.Context, actor auth.Identity, id string) (*dispute.Chargeback, error)
	UpdateChargebackFunc func(ctx context.Context, actor auth.Identity, id string, u dispute.ChargebackUpdate) (*dispute.Chargeback, error)
}

func (m *mockDisputeService) ListClaims(ctx context.Context, actor auth.Identity, q dispute.ClaimQuery) (*dispute.ClaimPage, error) {
	return m.ListClaimsFunc(ctx, actor, q)
}

func (m *mockDisputeService) GetClaimDetail(ctx context.Context, actor auth.Identity, id string) (*dispute.ClaimDetail, error) {
	return m.GetClaimDetailFunc(ctx, actor, id)
}

func (m *mockDisputeService) Reply(ctx context.Context, actor auth.Identity, id, message string) (*dispute.Claim, error) {
	return m.ReplyFunc(ctx, actor, id, message)
}

func (m *mockDisputeService) EscalateToMediation(ctx context.Context, actor auth.Identity, id string) (*dispute.Claim, error) {
	return m.EscalateFunc(ctx, actor, id)
}

func (m *mockDisputeService) ListChargebacks(ctx context.Context, actor auth.Identity, status string, page int) (*dispute.ChargebackPage, error) {
	return m.ListChargebacksFunc(ctx, actor, status, page)
}

func (m *mockDisputeService) GetChargeback(ctx context.Context, actor auth.Identity, id string) (*dispute.Chargeback, error) {
	return m.GetChargebackFunc(ctx, actor, id)
}

func (m *mockDisputeService) UpdateChargeback(ctx context.Context, actor auth.Identity, id string, u dispute.ChargebackUpdate) (*dispute.Chargeback, error) {
	return m.UpdateChargebackFunc(ctx, actor, id, u)
}

type mockWalletService struct {
	ListCardsFunc  func(ctx context.Context, userID string) ([]billing.WalletCard, error)
	AddCardFunc    func(ctx context.Context, userID string, req billing.AddCardRequest) (*billing.WalletCard, error)
	RemoveCardFunc func(ctx context.Context, userID, cardID string) error
}

func (m *mockWalletService) ListCards(ctx context.Context, userID string) ([]billing.WalletCard, error) {
	return m.ListCardsFunc(ctx, userID)
}

func (m *mockWalletService) AddCard(ctx context.Context, userID string, req billing.AddCardRequest) (*billing.WalletCard, error) {
	return m.AddCardFunc(ctx, userID, req)
}

func (m *mockWalletService) RemoveCard(ctx context.Context, userID, cardID string) error {
	return m.RemoveCardFunc(ctx, userID, cardID)
}

type enqueued struct {
	jobType    queue.JobType
	resourceID string
	meta       map[string]string
}

type mockQueue struct {
	jobs []enqueued
	err  error
}

func (m *mockQueue) Enqueue(_ context.Context, jobType queue.JobType, resourceID string, meta map[string]string) (*queue.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.jobs = append(m.jobs, enqueued{jobType: jobType, resourceID: resourceID, meta: meta})
	return &queue.Job{ID: "job-1", Type: jobType, ResourceID: resourceID}, nil
}

type mockLogSearcher struct {
	SearchFunc func(ctx context.Context, endpoint string, size int) ([]opensearch.GatewayCallLog, error)
}

func (m *mockLogSearcher) SearchGatewayCalls(ctx context.Context, endpoint string, size int) ([]opensearch.GatewayCallLog, error) {
	return m.SearchFunc(ctx, endpoint, size)
}

type mockStatsSearcher struct {
	mockLogSearcher
	StatsFunc func(ctx context.Context, hours int) (*postgres.GatewayStats, error)
}

func (m *mockStatsSearcher) Stats(ctx context.Context, hours int) (*postgres.GatewayStats, error) {
	return m.StatsFunc(ctx, hours)
}
