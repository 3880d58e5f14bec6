package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mstgnz/coursepay/infra/apperr"
)

const claimsBase = "/post-purchase/v1/claims"

// API is the typed gateway surface used by the billing and dispute packages.
type API interface {
	CreatePayment(ctx context.Context, req PaymentRequest, idemKey string) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	RefundPayment(ctx context.Context, id string, amount *float64, idemKey string) (*Refund, error)
	CreatePreapproval(ctx context.Context, req PreapprovalRequest, idemKey string) (*Preapproval, error)
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)
	UpdatePreapproval(ctx context.Context, id string, update PreapprovalUpdate) (*Preapproval, error)
	GetClaim(ctx context.Context, id string) (*Claim, error)
	SearchClaims(ctx context.Context, role string, offset, limit int) (*ClaimSearch, error)
	GetClaimMessages(ctx context.Context, id string) ([]ClaimMessage, error)
	SendClaimMessage(ctx context.Context, id string, msg ClaimMessageRequest) error
	OpenDispute(ctx context.Context, id string) error
	GetChargeback(ctx context.Context, id string) (*Chargeback, error)

	CreateCustomer(ctx context.Context, req CustomerRequest, idemKey string) (*Customer, error)
	// FindCustomerByEmail returns nil, nil when the gateway knows no customer
	// with that email.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	AddCustomerCard(ctx context.Context, customerID, cardToken string) (*CustomerCard, error)
	ListCustomerCards(ctx context.Context, customerID string) ([]CustomerCard, error)
	DeleteCustomerCard(ctx context.Context, customerID, cardID string) error

	CreatePreference(ctx context.Context, req PreferenceRequest, idemKey string) (*Preference, error)
}

var _ API = (*Client)(nil)

func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest, idemKey string) (*Payment, error) {
	var out Payment
	if err := c.call(ctx, http.MethodPost, "/v1/payments", req, &out, idemKey); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundPayment refunds the whole payment when amount is nil.
func (c *Client) RefundPayment(ctx context.Context, id string, amount *float64, idemKey string) (*Refund, error) {
	var out Refund
	endpoint := fmt.Sprintf("/v1/payments/%s/refunds", url.PathEscape(id))
	if err := c.call(ctx, http.MethodPost, endpoint, RefundRequest{Amount: amount}, &out, idemKey); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePreapproval(ctx context.Context, req PreapprovalRequest, idemKey string) (*Preapproval, error) {
	var out Preapproval
	if err := c.call(ctx, http.MethodPost, "/preapproval", req, &out, idemKey); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var out Preapproval
	if err := c.call(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(id), nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePreapproval(ctx context.Context, id string, update PreapprovalUpdate) (*Preapproval, error) {
	var out Preapproval
	if err := c.call(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(id), update, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetClaim(ctx context.Context, id string) (*Claim, error) {
	var out Claim
	if err := c.call(ctx, http.MethodGet, claimsBase+"/"+url.PathEscape(id), nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchClaims lists claims where the account plays role ("respondent" for a
// seller).
func (c *Client) SearchClaims(ctx context.Context, role string, offset, limit int) (*ClaimSearch, error) {
	q := url.Values{}
	q.Set("role", role)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var out ClaimSearch
	if err := c.call(ctx, http.MethodGet, claimsBase+"/search?"+q.Encode(), nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetClaimMessages(ctx context.Context, id string) ([]ClaimMessage, error) {
	var out []ClaimMessage
	if err := c.call(ctx, http.MethodGet, claimsBase+"/"+url.PathEscape(id)+"/messages", nil, &out, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendClaimMessage(ctx context.Context, id string, msg ClaimMessageRequest) error {
	return c.call(ctx, http.MethodPost, claimsBase+"/"+url.PathEscape(id)+"/actions/send-message", msg, nil, "")
}

func (c *Client) OpenDispute(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, claimsBase+"/"+url.PathEscape(id)+"/actions/open-dispute", nil, nil, "")
}

func (c *Client) GetChargeback(ctx context.Context, id string) (*Chargeback, error) {
	var out Chargeback
	if err := c.call(ctx, http.MethodGet, "/v1/chargebacks/"+url.PathEscape(id), nil, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest, idemKey string) (*Customer, error) {
	var out Customer
	if err := c.call(ctx, http.MethodPost, "/v1/customers", req, &out, idemKey); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	q := url.Values{}
	q.Set("email", email)

	var out CustomerSearch
	if err := c.call(ctx, http.MethodGet, "/v1/customers/search?"+q.Encode(), nil, &out, ""); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return &out.Results[0], nil
}

func customerCards(customerID string) string {
	return "/v1/customers/" + url.PathEscape(customerID) + "/cards"
}

func (c *Client) AddCustomerCard(ctx context.Context, customerID, cardToken string) (*CustomerCard, error) {
	var out CustomerCard
	if err := c.call(ctx, http.MethodPost, customerCards(customerID), CardRequest{Token: cardToken}, &out, ""); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCustomerCards(ctx context.Context, customerID string) ([]CustomerCard, error) {
	var out []CustomerCard
	if err := c.call(ctx, http.MethodGet, customerCards(customerID), nil, &out, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteCustomerCard(ctx context.Context, customerID, cardID string) error {
	return c.call(ctx, http.MethodDelete, customerCards(customerID)+"/"+url.PathEscape(cardID), nil, nil, "")
}

// CreatePreference opens a hosted checkout. The payer completes it on the
// gateway's page; the resulting payment arrives through a webhook.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest, idemKey string) (*Preference, error) {
	var out Preference
	if err := c.call(ctx, http.MethodPost, "/checkout/preferences", req, &out, idemKey); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any, idemKey string) error {
	var opts []Option
	if idemKey != "" {
		opts = append(opts, WithIdempotencyKey(idemKey))
	}

	body, err := c.Send(ctx, method, endpoint, payload, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Unexpected("failed to decode gateway response", err)
	}
	return nil
}
