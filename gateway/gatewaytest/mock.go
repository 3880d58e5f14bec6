// Package gatewaytest provides a configurable gateway.API double for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
)

// Mock implements gateway.API with function fields. Unset functions return
// an unexpected error so a test notices calls it did not plan for. Every
// call is counted by method name.
type Mock struct {
	CreatePaymentFunc     func(ctx context.Context, req gateway.PaymentRequest, idemKey string) (*gateway.Payment, error)
	GetPaymentFunc        func(ctx context.Context, id string) (*gateway.Payment, error)
	RefundPaymentFunc     func(ctx context.Context, id string, amount *float64, idemKey string) (*gateway.Refund, error)
	CreatePreapprovalFunc func(ctx context.Context, req gateway.PreapprovalRequest, idemKey string) (*gateway.Preapproval, error)
	GetPreapprovalFunc    func(ctx context.Context, id string) (*gateway.Preapproval, error)
	UpdatePreapprovalFunc func(ctx context.Context, id string, update gateway.PreapprovalUpdate) (*gateway.Preapproval, error)
	GetClaimFunc          func(ctx context.Context, id string) (*gateway.Claim, error)
	SearchClaimsFunc      func(ctx context.Context, role string, offset, limit int) (*gateway.ClaimSearch, error)
	GetClaimMessagesFunc  func(ctx context.Context, id string) ([]gateway.ClaimMessage, error)
	SendClaimMessageFunc  func(ctx context.Context, id string, msg gateway.ClaimMessageRequest) error
	OpenDisputeFunc       func(ctx context.Context, id string) error
	GetChargebackFunc     func(ctx context.Context, id string) (*gateway.Chargeback, error)

	CreateCustomerFunc      func(ctx context.Context, req gateway.CustomerRequest, idemKey string) (*gateway.Customer, error)
	FindCustomerByEmailFunc func(ctx context.Context, email string) (*gateway.Customer, error)
	AddCustomerCardFunc     func(ctx context.Context, customerID, cardToken string) (*gateway.CustomerCard, error)
	ListCustomerCardsFunc   func(ctx context.Context, customerID string) ([]gateway.CustomerCard, error)
	DeleteCustomerCardFunc  func(ctx context.Context, customerID, cardID string) error
	CreatePreferenceFunc    func(ctx context.Context, req gateway.PreferenceRequest, idemKey string) (*gateway.Preference, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ gateway.API = (*Mock)(nil)

func (m *Mock) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (m *Mock) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func unplanned(name string) error {
	return apperr.Unexpected("unplanned gateway call "+name, nil)
}

func (m *Mock) CreatePayment(ctx context.Context, req gateway.PaymentRequest, idemKey string) (*gateway.Payment, error) {
	m.record("CreatePayment")
	if m.CreatePaymentFunc == nil {
		return nil, unplanned("CreatePayment")
	}
	return m.CreatePaymentFunc(ctx, req, idemKey)
}

func (m *Mock) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	m.record("GetPayment")
	if m.GetPaymentFunc == nil {
		return nil, unplanned("GetPayment")
	}
	return m.GetPaymentFunc(ctx, id)
}

func (m *Mock) RefundPayment(ctx context.Context, id string, amount *float64, idemKey string) (*gateway.Refund, error) {
	m.record("RefundPayment")
	if m.RefundPaymentFunc == nil {
		return nil, unplanned("RefundPayment")
	}
	return m.RefundPaymentFunc(ctx, id, amount, idemKey)
}

func (m *Mock) CreatePreapproval(ctx context.Context, req gateway.PreapprovalRequest, idemKey string) (*gateway.Preapproval, error) {
	m.record("CreatePreapproval")
	if m.CreatePreapprovalFunc == nil {
		return nil, unplanned("CreatePreapproval")
	}
	return m.CreatePreapprovalFunc(ctx, req, idemKey)
}

func (m *Mock) GetPreapproval(ctx context.Context, id string) (*gateway.Preapproval, error) {
	m.record("GetPreapproval")
	if m.GetPreapprovalFunc == nil {
		return nil, unplanned("GetPreapproval")
	}
	return m.GetPreapprovalFunc(ctx, id)
}

func (m *Mock) UpdatePreapproval(ctx context.Context, id string, update gateway.PreapprovalUpdate) (*gateway.Preapproval, error) {
	m.record("UpdatePreapproval")
	if m.UpdatePreapprovalFunc == nil {
		return nil, unplanned("UpdatePreapproval")
	}
	return m.UpdatePreapprovalFunc(ctx, id, update)
}

func (m *Mock) GetClaim(ctx context.Context, id string) (*gateway.Claim, error) {
	m.record("GetClaim")
	if m.GetClaimFunc == nil {
		return nil, unplanned("GetClaim")
	}
	return m.GetClaimFunc(ctx, id)
}

func (m *Mock) SearchClaims(ctx context.Context, role string, offset, limit int) (*gateway.ClaimSearch, error) {
	m.record("SearchClaims")
	if m.SearchClaimsFunc == nil {
		return nil, unplanned("SearchClaims")
	}
	return m.SearchClaimsFunc(ctx, role, offset, limit)
}

func (m *Mock) GetClaimMessages(ctx context.Context, id string) ([]gateway.ClaimMessage, error) {
	m.record("GetClaimMessages")
	if m.GetClaimMessagesFunc == nil {
		return nil, unplanned("GetClaimMessages")
	}
	return m.GetClaimMessagesFunc(ctx, id)
}

func (m *Mock) SendClaimMessage(ctx context.Context, id string, msg gateway.ClaimMessageRequest) error {
	m.record("SendClaimMessage")
	if m.SendClaimMessageFunc == nil {
		return unplanned("SendClaimMessage")
	}
	return m.SendClaimMessageFunc(ctx, id, msg)
}

func (m *Mock) OpenDispute(ctx context.Context, id string) error {
	m.record("OpenDispute")
	if m.OpenDisputeFunc == nil {
		return unplanned("OpenDispute")
	}
	return m.OpenDisputeFunc(ctx, id)
}

func (m *Mock) GetChargeback(ctx context.Context, id string) (*gateway.Chargeback, error) {
	m.record("GetChargeback")
	if m.GetChargebackFunc == nil {
		return nil, unplanned("GetChargeback")
	}
	return m.GetChargebackFunc(ctx, id)
}

func (m *Mock) CreateCustomer(ctx context.Context, req gateway.CustomerRequest, idemKey string) (*gateway.Customer, error) {
	m.record("CreateCustomer")
	if m.CreateCustomerFunc == nil {
		return nil, unplanned("CreateCustomer")
	}
	return m.CreateCustomerFunc(ctx, req, idemKey)
}

func (m *Mock) FindCustomerByEmail(ctx context.Context, email string) (*gateway.Customer, error) {
	m.record("FindCustomerByEmail")
	if m.FindCustomerByEmailFunc == nil {
		return nil, unplanned("FindCustomerByEmail")
	}
	return m.FindCustomerByEmailFunc(ctx, email)
}

func (m *Mock) AddCustomerCard(ctx context.Context, customerID, cardToken string) (*gateway.CustomerCard, error) {
	m.record("AddCustomerCard")
	if m.AddCustomerCardFunc == nil {
		return nil, unplanned("AddCustomerCard")
	}
	return m.AddCustomerCardFunc(ctx, customerID, cardToken)
}

func (m *Mock) ListCustomerCards(ctx context.Context, customerID string) ([]gateway.CustomerCard, error) {
	m.record("ListCustomerCards")
	if m.ListCustomerCardsFunc == nil {
		return nil, unplanned("ListCustomerCards")
	}
	return m.ListCustomerCardsFunc(ctx, customerID)
}

func (m *Mock) DeleteCustomerCard(ctx context.Context, customerID, cardID string) error {
	m.record("DeleteCustomerCard")
	if m.DeleteCustomerCardFunc == nil {
		return unplanned("DeleteCustomerCard")
	}
	return m.DeleteCustomerCardFunc(ctx, customerID, cardID)
}

func (m *Mock) CreatePreference(ctx context.Context, req gateway.PreferenceRequest, idemKey string) (*gateway.Preference, error) {
	m.record("CreatePreference")
	if m.CreatePreferenceFunc == nil {
		return nil, unplanned("CreatePreference")
	}
	return m.CreatePreferenceFunc(ctx, req, idemKey)
}
