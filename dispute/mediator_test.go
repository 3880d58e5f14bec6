package dispute_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/gateway/gatewaytest"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner    = auth.Identity{UserID: "u1", Role: auth.RoleStudent}
	stranger = auth.Identity{UserID: "u2", Role: auth.RoleStudent}
	admin    = auth.Identity{UserID: "staff", Role: auth.RoleAdmin}
)

func newMediator(t *testing.T) (*dispute.Mediator, *memory.Store, *gatewaytest.Mock) {
	t.Helper()
	store := memory.New()
	gw := &gatewaytest.Mock{}
	m := dispute.NewMediator(dispute.Deps{
		Store:   store,
		Gateway: gw,
		Cache:   cache.NewResponseCache(cache.NewMemoryBackend(100), time.Minute, nil),
		Now:     func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	return m, store, gw
}

func seedClaim(t *testing.T, store *memory.Store, externalID, userID string, status dispute.ClaimStatus) *dispute.Claim {
	t.Helper()
	c := &dispute.Claim{ExternalID: externalID, UserID: userID, Status: status, CreatedAt: time.Now()}
	require.NoError(t, store.UpsertClaim(context.Background(), c))
	return c
}

func TestMediator_ClaimAuthorization(t *testing.T) {
	m, store, gw := newMediator(t)
	c := seedClaim(t, store, "900", "u1", dispute.ClaimUnderReview)
	ctx := context.Background()

	_, err := m.GetClaimDetail(ctx, stranger, c.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = m.Reply(ctx, stranger, c.ID, "hello")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = m.EscalateToMediation(ctx, stranger, c.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	assert.Zero(t, gw.Calls("SendClaimMessage"))
	assert.Zero(t, gw.Calls("OpenDispute"))
}

func TestMediator_ListClaims(t *testing.T) {
	m, store, _ := newMediator(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		seedClaim(t, store, fmt.Sprintf("c%d", i), "u1", dispute.ClaimUnderReview)
	}
	seedClaim(t, store, "other", "u2", dispute.ClaimNew)

	page, err := m.ListClaims(ctx, owner, dispute.ClaimQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Len(t, page.Items, 10)

	page, err = m.ListClaims(ctx, owner, dispute.ClaimQuery{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = m.ListClaims(ctx, admin, dispute.ClaimQuery{Status: "NEW"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "other", page.Items[0].ExternalID)
}

func TestMediator_ListClaimsCacheInvalidatedOnChange(t *testing.T) {
	m, store, gw := newMediator(t)
	ctx := context.Background()
	c := seedClaim(t, store, "900", "u1", dispute.ClaimUnderReview)
	gw.OpenDisputeFunc = func(context.Context, string) error { return nil }

	page, err := m.ListClaims(ctx, owner, dispute.ClaimQuery{})
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimUnderReview, page.Items[0].Status)

	_, err = m.EscalateToMediation(ctx, owner, c.ID)
	require.NoError(t, err)

	page, err = m.ListClaims(ctx, owner, dispute.ClaimQuery{})
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimInMediation, page.Items[0].Status)
}

func TestMediator_GetClaimDetail(t *testing.T) {
	m, store, gw := newMediator(t)
	c := seedClaim(t, store, "900", "u1", dispute.ClaimUnderReview)

	gw.GetClaimMessagesFunc = func(context.Context, string) ([]gateway.ClaimMessage, error) {
		return []gateway.ClaimMessage{{ID: "m1", SenderRole: "complainant", Message: "item not received"}}, nil
	}
	detail, err := m.GetClaimDetail(context.Background(), owner, c.ID)
	require.NoError(t, err)
	assert.False(t, detail.MessagesUnavailable)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "item not received", detail.Messages[0].Message)

	gw.GetClaimMessagesFunc = func(context.Context, string) ([]gateway.ClaimMessage, error) {
		return nil, apperr.External(http.StatusBadGateway, "payment gateway error (502): down", nil)
	}
	detail, err = m.GetClaimDetail(context.Background(), admin, c.ID)
	require.NoError(t, err)
	assert.True(t, detail.MessagesUnavailable)
	assert.Empty(t, detail.Messages)
	assert.Equal(t, "900", detail.ExternalID)
}

func TestMediator_Reply(t *testing.T) {
	tests := []struct {
		name         string
		actor        auth.Identity
		status       dispute.ClaimStatus
		message      string
		wantKind     apperr.Kind
		wantReceiver string
		wantStatus   dispute.ClaimStatus
	}{
		{"staff answers buyer", admin, dispute.ClaimUnderReview, " we shipped it ", "", "complainant", dispute.ClaimRespondedBySeller},
		{"buyer writes seller", owner, dispute.ClaimUnderReview, "still waiting", "", "respondent", dispute.ClaimUnderReview},
		{"staff in mediation keeps status", admin, dispute.ClaimInMediation, "evidence attached", "", "complainant", dispute.ClaimInMediation},
		{"blank message", owner, dispute.ClaimUnderReview, "   ", apperr.KindValidation, "", ""},
		{"resolved claim", admin, dispute.ClaimResolvedWon, "late", apperr.KindBusiness, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, gw := newMediator(t)
			c := seedClaim(t, store, "900", "u1", tt.status)

			var sent gateway.ClaimMessageRequest
			gw.SendClaimMessageFunc = func(_ context.Context, id string, msg gateway.ClaimMessageRequest) error {
				assert.Equal(t, "900", id)
				sent = msg
				return nil
			}

			_, err := m.Reply(context.Background(), tt.actor, c.ID, tt.message)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Zero(t, gw.Calls("SendClaimMessage"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReceiver, sent.ReceiverRole)

			stored, err := store.GetClaim(context.Background(), c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
		})
	}
}

func TestMediator_EscalateIsOneWay(t *testing.T) {
	m, store, gw := newMediator(t)
	ctx := context.Background()
	c := seedClaim(t, store, "900", "u1", dispute.ClaimRespondedBySeller)
	gw.OpenDisputeFunc = func(context.Context, string) error { return nil }

	got, err := m.EscalateToMediation(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimInMediation, got.Status)

	_, err = m.EscalateToMediation(ctx, owner, c.ID)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
	assert.Equal(t, 1, gw.Calls("OpenDispute"))

	resolved := seedClaim(t, store, "901", "u1", dispute.ClaimResolvedLost)
	_, err = m.EscalateToMediation(ctx, admin, resolved.ID)
	assert.Equal(t, apperr.KindBusiness, apperr.KindOf(err))
}

func TestMediator_SyncClaim(t *testing.T) {
	m, store, gw := newMediator(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePayment(ctx, &billing.Payment{ID: "p1", ExternalID: "1001", UserID: "u1"}))

	stage := "claim"
	gw.GetClaimFunc = func(context.Context, string) (*gateway.Claim, error) {
		return &gateway.Claim{ID: 900, ResourceID: "1001", Status: "opened", Stage: stage, Type: "mediations"}, nil
	}

	require.NoError(t, m.SyncClaim(ctx, "900"))
	c, err := store.GetClaimByExternalID(ctx, "900")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, dispute.ClaimUnderReview, c.Status)

	stage = "dispute"
	require.NoError(t, m.SyncClaim(ctx, "900"))
	c, err = store.GetClaimByExternalID(ctx, "900")
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimInMediation, c.Status)
}

func TestMediator_SyncKeepsLocalProgress(t *testing.T) {
	tests := []struct {
		name     string
		local    dispute.ClaimStatus
		status   string
		stage    string
		expected dispute.ClaimStatus
	}{
		{"seller answer survives a stale opened", dispute.ClaimRespondedBySeller, "opened", "claim", dispute.ClaimRespondedBySeller},
		{"mediation survives a stale opened", dispute.ClaimInMediation, "opened", "claim", dispute.ClaimInMediation},
		{"mediation ends on resolution", dispute.ClaimInMediation, "closed", "dispute", dispute.ClaimResolvedWon},
		{"seller answer moves to mediation", dispute.ClaimRespondedBySeller, "opened", "dispute", dispute.ClaimInMediation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, gw := newMediator(t)
			ctx := context.Background()
			seedClaim(t, store, "900", "u1", tt.local)
			gw.GetClaimFunc = func(context.Context, string) (*gateway.Claim, error) {
				return &gateway.Claim{ID: 900, Status: tt.status, Stage: tt.stage}, nil
			}

			require.NoError(t, m.SyncClaim(ctx, "900"))
			c, err := store.GetClaimByExternalID(ctx, "900")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.Status)
		})
	}
}

func TestMediator_RefreshOpenClaims(t *testing.T) {
	m, store, gw := newMediator(t)
	ctx := context.Background()
	seedClaim(t, store, "800", "u1", dispute.ClaimUnderReview)
	seedClaim(t, store, "801", "u1", dispute.ClaimResolvedWon)

	gw.SearchClaimsFunc = func(_ context.Context, role string, offset, limit int) (*gateway.ClaimSearch, error) {
		assert.Equal(t, "respondent", role)
		return &gateway.ClaimSearch{
			Paging:  gateway.Paging{Total: 1, Limit: limit, Offset: offset},
			Results: []gateway.Claim{{ID: 950, Status: "opened", Stage: "claim"}},
		}, nil
	}
	gw.GetClaimFunc = func(_ context.Context, id string) (*gateway.Claim, error) {
		assert.Equal(t, "800", id, "only unresolved claims are polled")
		return &gateway.Claim{ID: 800, Status: "closed", Stage: "claim"}, nil
	}

	n, err := m.RefreshOpenClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	discovered, err := store.GetClaimByExternalID(ctx, "950")
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimUnderReview, discovered.Status)

	closed, err := store.GetClaimByExternalID(ctx, "800")
	require.NoError(t, err)
	assert.Equal(t, dispute.ClaimResolvedWon, closed.Status)
}

func TestMediator_Chargebacks(t *testing.T) {
	m, store, gw := newMediator(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePayment(ctx, &billing.Payment{ID: "p1", ExternalID: "1001", UserID: "u1"}))
	gw.GetChargebackFunc = func(_ context.Context, id string) (*gateway.Chargeback, error) {
		return &gateway.Chargeback{ID: id, Payments: []int64{1001}, Amount: 49.9, Currency: "BRL", Documentation: "pending_documentation"}, nil
	}

	require.NoError(t, m.SyncChargeback(ctx, "cb-1"))

	_, err := m.ListChargebacks(ctx, owner, "", 1)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	page, err := m.ListChargebacks(ctx, admin, "awaiting_evidence", 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	cb := page.Items[0]
	assert.Equal(t, "u1", cb.UserID)
	assert.Equal(t, "1001", cb.PaymentExternalID)

	_, err = m.ListChargebacks(ctx, admin, "bogus", 1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	status, notes := "evidence_sent", "  receipts uploaded "
	updated, err := m.UpdateChargeback(ctx, admin, cb.ID, dispute.ChargebackUpdate{Status: &status, InternalNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, dispute.ChargebackEvidenceSent, updated.Status)
	assert.Equal(t, "receipts uploaded", updated.InternalNotes)

	page, err = m.ListChargebacks(ctx, admin, "evidence_sent", 1)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1, "listing reflects the update")

	bad := "lost-ish"
	_, err = m.UpdateChargeback(ctx, admin, cb.ID, dispute.ChargebackUpdate{Status: &bad})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := m.GetChargeback(ctx, admin, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipts uploaded", got.InternalNotes)
}
