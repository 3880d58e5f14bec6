package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/idempotency"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/response"
	"github.com/mstgnz/coursepay/infra/validate"
	"github.com/shopspring/decimal"
)

type IdentificationRequest struct {
	Type   string `json:"type" validate:"required,oneof=CPF CNPJ"`
	Number string `json:"number" validate:"required,doc_number"`
}

type PayerRequest struct {
	Email          string                `json:"email" validate:"required,email"`
	FirstName      string                `json:"first_name"`
	LastName       string                `json:"last_name"`
	Identification IdentificationRequest `json:"identification"`
}

// CardPaymentRequest creates a one-off card payment, or a subscription when
// PlanID is set (the amount then comes from the plan).
type CardPaymentRequest struct {
	Amount          decimal.Decimal `json:"transaction_amount"`
	Token           string          `json:"token" validate:"required"`
	Description     string          `json:"description" validate:"max=255"`
	Installments    int             `json:"installments" validate:"omitempty,min=1,max=12"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	IssuerID        string          `json:"issuer_id"`
	PlanID          string          `json:"plan_id"`
	Payer           PayerRequest    `json:"payer"`
}

type PixPaymentRequest struct {
	Amount      decimal.Decimal `json:"transaction_amount"`
	Description string          `json:"description" validate:"max=255"`
	Payer       PayerRequest    `json:"payer"`
}

// CheckoutRequest opens a hosted checkout for a one-off purchase.
type CheckoutRequest struct {
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=255"`
	Amount      decimal.Decimal `json:"amount"`
	Payer       CheckoutPayer   `json:"payer"`
}

type CheckoutPayer struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
}

type CheckoutResult struct {
	PaymentID        string `json:"payment_id"`
	PreferenceID     string `json:"preference_id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

type PaymentResult struct {
	PaymentID    string          `json:"payment_id"`
	ExternalID   string          `json:"external_id"`
	Status       PaymentStatus   `json:"status"`
	StatusDetail string          `json:"status_detail,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

type SubscriptionResult struct {
	SubscriptionID string             `json:"subscription_id"`
	ExternalID     string             `json:"external_id"`
	PlanID         string             `json:"plan_id"`
	Status         SubscriptionStatus `json:"status"`
	Amount         decimal.Decimal    `json:"amount"`
}

type PixResult struct {
	PaymentResult
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

// Orchestrator turns client payment requests into gateway calls. Each request
// runs at most once per idempotency key; its response is stored and replayed.
type Orchestrator struct {
	Deps
	idem      idempotency.Store
	lifecycle *Lifecycle
}

func NewOrchestrator(d Deps, idem idempotency.Store, lifecycle *Lifecycle) *Orchestrator {
	return &Orchestrator{Deps: d.normalize(), idem: idem, lifecycle: lifecycle}
}

// localID derives the local record id from the client key so a retried
// request finds the row its first attempt wrote.
func localID(prefix, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(prefix+":"+key)).String()
}

func newID() string {
	return uuid.NewString()
}

// CreatePaymentOrSubscription handles POST /payments/card.
func (o *Orchestrator) CreatePaymentOrSubscription(ctx context.Context, userID string, req CardPaymentRequest, idemKey string) (*idempotency.Response, error) {
	return o.execute(ctx, idempotency.PrefixCard, idemKey, func(ctx context.Context) (int, string, any, error) {
		if err := validate.Struct(req); err != nil {
			return 0, "", nil, err
		}
		if req.PlanID != "" {
			res, err := o.createSubscription(ctx, userID, req, idemKey)
			return http.StatusCreated, "subscription created", res, err
		}
		res, err := o.createCardPayment(ctx, userID, req, idemKey)
		return http.StatusCreated, "payment created", res, err
	})
}

// CreatePixPayment handles POST /payments/pix.
func (o *Orchestrator) CreatePixPayment(ctx context.Context, userID string, req PixPaymentRequest, idemKey string) (*idempotency.Response, error) {
	return o.execute(ctx, idempotency.PrefixPix, idemKey, func(ctx context.Context) (int, string, any, error) {
		if err := validate.Struct(req); err != nil {
			return 0, "", nil, err
		}
		res, err := o.createPix(ctx, userID, req, idemKey)
		return http.StatusCreated, "pix payment created", res, err
	})
}

// CreateCheckout handles POST /payments/checkout. The payment stays pending
// until the gateway reports the payer's result through a webhook.
func (o *Orchestrator) CreateCheckout(ctx context.Context, userID string, req CheckoutRequest, idemKey string) (*idempotency.Response, error) {
	return o.execute(ctx, idempotency.PrefixCheckout, idemKey, func(ctx context.Context) (int, string, any, error) {
		if err := validate.Struct(req); err != nil {
			return 0, "", nil, err
		}
		res, err := o.createCheckout(ctx, userID, req, idemKey)
		return http.StatusCreated, "checkout created", res, err
	})
}

// execute wraps run in the idempotency store. Client errors become stored
// responses; gateway transport and internal failures are returned unstored
// so the client can retry with the same key.
func (o *Orchestrator) execute(ctx context.Context, prefix, key string, run func(ctx context.Context) (int, string, any, error)) (*idempotency.Response, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperr.Validation("X-Idempotency-Key header is required")
	}

	resp, replayed, err := idempotency.Execute(ctx, o.idem, prefix, key, func(ctx context.Context) (*idempotency.Response, error) {
		status, message, data, err := run(ctx)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindExternal, apperr.KindUnexpected:
				return nil, err
			}
			code, body, mErr := response.ErrorEnvelope(err)
			if mErr != nil {
				return nil, apperr.Unexpected("failed to encode response", mErr)
			}
			return &idempotency.Response{StatusCode: code, Body: body}, nil
		}

		body, mErr := response.Envelope(status, message, data)
		if mErr != nil {
			return nil, apperr.Unexpected("failed to encode response", mErr)
		}
		return &idempotency.Response{StatusCode: status, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		o.Metrics.IncIdempotentReplay(prefix)
		logger.Debug("replaying stored response for " + prefix + " request")
	}
	return resp, nil
}

func (o *Orchestrator) checkAmount(amount decimal.Decimal) error {
	if amount.LessThan(o.Config.MinAmount) || amount.GreaterThan(o.Config.MaxAmount) {
		return apperr.Validation("transaction_amount must be between %s and %s",
			o.Config.MinAmount.StringFixed(2), o.Config.MaxAmount.StringFixed(2))
	}
	return nil
}

func toGatewayPayer(p PayerRequest) gateway.Payer {
	return gateway.Payer{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Identification: &gateway.Identification{
			Type:   p.Identification.Type,
			Number: p.Identification.Number,
		},
	}
}

// isRejection reports whether the gateway refused the request itself, as
// opposed to failing to answer.
func isRejection(err error) bool {
	status := apperr.StatusOf(err)
	return apperr.KindOf(err) == apperr.KindExternal && status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// pendingPayment returns the local row for this request, creating it on the
// first attempt.
func (o *Orchestrator) pendingPayment(ctx context.Context, id string, build func() *Payment) (*Payment, error) {
	p, err := o.Store.GetPayment(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	p = build()
	if err := o.Store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) createCardPayment(ctx context.Context, userID string, req CardPaymentRequest, idemKey string) (*PaymentResult, error) {
	if err := o.checkAmount(req.Amount); err != nil {
		return nil, err
	}
	installments := req.Installments
	if installments == 0 {
		installments = 1
	}

	now := o.Now()
	p, err := o.pendingPayment(ctx, localID(idempotency.PrefixCard, idemKey), func() *Payment {
		return &Payment{
			ID:           localID(idempotency.PrefixCard, idemKey),
			UserID:       userID,
			Amount:       req.Amount,
			Currency:     o.Config.Currency,
			Status:       PaymentPending,
			Method:       req.PaymentMethodID,
			Installments: installments,
			PayerEmail:   req.Payer.Email,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})
	if err != nil {
		return nil, err
	}
	o.notify(userID, fanout.Update{Type: "payment", Status: "processing", ResourceID: p.ID})

	gp, err := o.Gateway.CreatePayment(ctx, gateway.PaymentRequest{
		TransactionAmount: req.Amount.InexactFloat64(),
		Token:             req.Token,
		Description:       req.Description,
		Installments:      installments,
		PaymentMethodID:   req.PaymentMethodID,
		IssuerID:          req.IssuerID,
		Payer:             toGatewayPayer(req.Payer),
		ExternalReference: p.ID,
		NotificationURL:   o.Config.NotificationURL,
	}, gateway.DeriveIdempotencyKey(idempotency.PrefixCard, idemKey))
	if err != nil {
		return nil, o.failPayment(ctx, p, "card", err)
	}

	return o.recordPayment(ctx, p, gp, "card")
}

func (o *Orchestrator) createPix(ctx context.Context, userID string, req PixPaymentRequest, idemKey string) (*PixResult, error) {
	if err := o.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	now := o.Now()
	p, err := o.pendingPayment(ctx, localID(idempotency.PrefixPix, idemKey), func() *Payment {
		return &Payment{
			ID:           localID(idempotency.PrefixPix, idemKey),
			UserID:       userID,
			Amount:       req.Amount,
			Currency:     o.Config.Currency,
			Status:       PaymentPending,
			Method:       "pix",
			Installments: 1,
			PayerEmail:   req.Payer.Email,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})
	if err != nil {
		return nil, err
	}
	o.notify(userID, fanout.Update{Type: "payment", Status: "processing", ResourceID: p.ID})

	gp, err := o.Gateway.CreatePayment(ctx, gateway.PaymentRequest{
		TransactionAmount: req.Amount.InexactFloat64(),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             toGatewayPayer(req.Payer),
		ExternalReference: p.ID,
		NotificationURL:   o.Config.NotificationURL,
	}, gateway.DeriveIdempotencyKey(idempotency.PrefixPix, idemKey))
	if err != nil {
		return nil, o.failPayment(ctx, p, "pix", err)
	}

	res, err := o.recordPayment(ctx, p, gp, "pix")
	if err != nil {
		return nil, err
	}

	out := &PixResult{PaymentResult: *res}
	if gp.PointOfInteraction != nil && gp.PointOfInteraction.TransactionData != nil {
		td := gp.PointOfInteraction.TransactionData
		out.QRCode = td.QRCode
		out.QRCodeBase64 = td.QRCodeBase64
		out.TicketURL = td.TicketURL
	}
	return out, nil
}

const checkoutMethod = "checkout_pro"

func (o *Orchestrator) createCheckout(ctx context.Context, userID string, req CheckoutRequest, idemKey string) (*CheckoutResult, error) {
	if err := o.checkAmount(req.Amount); err != nil {
		return nil, err
	}

	now := o.Now()
	id := localID(idempotency.PrefixCheckout, idemKey)
	p, err := o.pendingPayment(ctx, id, func() *Payment {
		return &Payment{
			ID:           id,
			UserID:       userID,
			Amount:       req.Amount,
			Currency:     o.Config.Currency,
			Status:       PaymentPending,
			Method:       checkoutMethod,
			Installments: 1,
			PayerEmail:   req.Payer.Email,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})
	if err != nil {
		return nil, err
	}

	pref := gateway.PreferenceRequest{
		Items: []gateway.PreferenceItem{{
			ID:          p.ID,
			Title:       req.Title,
			Description: req.Description,
			Quantity:    1,
			UnitPrice:   p.Amount.InexactFloat64(),
			CurrencyID:  p.Currency,
		}},
		Payer:             gateway.PreferencePayer{Name: req.Payer.Name, Email: req.Payer.Email},
		Purpose:           "wallet_purchase",
		ExternalReference: p.ID,
		NotificationURL:   o.Config.NotificationURL,
	}
	// auto_return is refused without a success URL
	if base := strings.TrimRight(o.Config.BackURL, "/"); base != "" {
		pref.BackURLs = &gateway.BackURLs{
			Success: base + "/success",
			Failure: base + "/failure",
			Pending: base + "/pending",
		}
		pref.AutoReturn = "approved"
	}

	created, err := o.Gateway.CreatePreference(ctx, pref, gateway.DeriveIdempotencyKey(idempotency.PrefixCheckout, idemKey))
	if err != nil {
		return nil, o.failPayment(ctx, p, "checkout", err)
	}

	o.Metrics.IncPaymentCreated("checkout", string(PaymentPending))
	logger.Info("checkout preference "+created.ID+" created", logger.LogContext{
		UserID:    userID,
		Operation: "payment.checkout",
		Fields:    map[string]any{"payment_id": p.ID},
	})
	return &CheckoutResult{
		PaymentID:        p.ID,
		PreferenceID:     created.ID,
		InitPoint:        created.InitPoint,
		SandboxInitPoint: created.SandboxInitPoint,
	}, nil
}

// recordPayment stores the gateway answer on the local row. A rejected
// payment becomes a business error.
func (o *Orchestrator) recordPayment(ctx context.Context, p *Payment, gp *gateway.Payment, kind string) (*PaymentResult, error) {
	p.ExternalID = strconv.FormatInt(gp.ID, 10)
	p.Status = PaymentStatus(gateway.MapPaymentStatus(gp.Status))
	p.LastFourDigits = gp.LastFourDigits()
	if p.Status == PaymentApproved {
		at := o.Now()
		if gp.DateApproved != nil {
			at = *gp.DateApproved
		}
		p.ApprovedAt = &at
	}
	p.UpdatedAt = o.Now()
	if err := o.Store.RecordGatewayResult(ctx, p); err != nil {
		return nil, err
	}

	o.Metrics.IncPaymentCreated(kind, string(p.Status))
	o.notify(p.UserID, fanout.Update{Type: "payment", Status: string(p.Status), ResourceID: p.ID})

	if p.Status == PaymentRejected {
		return nil, apperr.Business("payment was rejected: %s", rejectionDetail(gp.StatusDetail))
	}
	return &PaymentResult{
		PaymentID:    p.ID,
		ExternalID:   p.ExternalID,
		Status:       p.Status,
		StatusDetail: gp.StatusDetail,
		Amount:       p.Amount,
	}, nil
}

// failPayment marks the local row rejected when the gateway refused the
// request and converts the error into a business error. Other errors leave
// the row pending for the retry.
func (o *Orchestrator) failPayment(ctx context.Context, p *Payment, kind string, err error) error {
	if !isRejection(err) {
		return err
	}
	p.Status = PaymentRejected
	p.UpdatedAt = o.Now()
	if rErr := o.Store.RecordGatewayResult(ctx, p); rErr != nil {
		return rErr
	}
	o.Metrics.IncPaymentCreated(kind, string(PaymentRejected))
	o.notify(p.UserID, fanout.Update{Type: "payment", Status: string(PaymentRejected), ResourceID: p.ID})
	return apperr.Business("payment was rejected by the gateway: %s", apperr.MessageOf(err))
}

func rejectionDetail(detail string) string {
	if detail == "" {
		return "rejected"
	}
	return detail
}

func (o *Orchestrator) createSubscription(ctx context.Context, userID string, req CardPaymentRequest, idemKey string) (*SubscriptionResult, error) {
	plan, err := o.Store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, apperr.Business("plan %s is not available", plan.PublicID)
	}

	// one subscription setup per user at a time
	unlock := o.lifecycle.locks.Lock("user:" + userID)
	defer unlock()

	subID := localID(idempotency.PrefixCard, idemKey)
	if existing, err := o.Store.GetSubscription(ctx, subID); err == nil {
		return subscriptionResult(existing), nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	current, err := o.Store.LatestSubscriptionForUser(ctx, userID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if current.IsActive(o.Now()) {
		return nil, apperr.Business("user already has an active subscription")
	}

	o.notify(userID, fanout.Update{Type: "subscription", Status: "processing", ResourceID: subID})

	pre, err := o.Gateway.CreatePreapproval(ctx, gateway.PreapprovalRequest{
		PreapprovalPlanID: plan.ExternalID,
		Reason:            plan.Name,
		PayerEmail:        req.Payer.Email,
		CardTokenID:       req.Token,
		BackURL:           o.Config.BackURL,
		ExternalReference: subID,
		Status:            string(SubscriptionAuthorized),
	}, gateway.DeriveIdempotencyKey(idempotency.PrefixCard, idemKey))
	if err != nil {
		if !isRejection(err) {
			return nil, err
		}
		return nil, o.rejectSubscription(ctx, userID, plan, req, err)
	}

	now := o.Now()
	s := &Subscription{
		ID:                 subID,
		ExternalID:         pre.ID,
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             SubscriptionPending,
		Amount:             plan.Amount,
		Currency:           plan.Currency,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now,
		PayerEmail:         req.Payer.Email,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if pre.Card != nil {
		s.LastFourCardDigits = pre.Card.LastFourDigits
	}
	if err := o.Store.CreateSubscription(ctx, s); err != nil {
		return nil, err
	}

	o.invalidateUser(ctx, userID)
	o.Metrics.IncPaymentCreated("subscription", string(s.Status))
	o.notify(userID, fanout.Update{Type: "subscription", Status: string(s.Status), ResourceID: s.ID})
	o.publish(ctx, events.Event{
		Type:   events.SubscriptionCreated,
		Key:    s.ID,
		UserID: userID,
		Data:   map[string]string{"plan_id": plan.PublicID, "amount": plan.Amount.StringFixed(2)},
	})

	return subscriptionResult(s), nil
}

// rejectSubscription keeps a trace of the refused attempt as a rejected payment.
func (o *Orchestrator) rejectSubscription(ctx context.Context, userID string, plan *Plan, req CardPaymentRequest, cause error) error {
	now := o.Now()
	p := &Payment{
		ID:           newID(),
		UserID:       userID,
		Amount:       plan.Amount,
		Currency:     plan.Currency,
		Status:       PaymentRejected,
		Method:       req.PaymentMethodID,
		Installments: 1,
		PayerEmail:   req.Payer.Email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.Store.CreatePayment(ctx, p); err != nil {
		return err
	}
	o.Metrics.IncPaymentCreated("subscription", string(PaymentRejected))
	o.notify(userID, fanout.Update{Type: "subscription", Status: string(PaymentRejected)})
	return apperr.Business("subscription was rejected by the gateway: %s", apperr.MessageOf(cause))
}

func subscriptionResult(s *Subscription) *SubscriptionResult {
	return &SubscriptionResult{
		SubscriptionID: s.ID,
		ExternalID:     s.ExternalID,
		PlanID:         s.PlanID,
		Status:         s.Status,
		Amount:         s.Amount,
	}
}

// PaymentPage is one page of a user's payment history.
type PaymentPage struct {
	Items []Payment `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
}

const paymentPageSize = 20

func (o *Orchestrator) ListPayments(ctx context.Context, userID string, page int) (*PaymentPage, error) {
	if page < 1 {
		page = 1
	}
	items, total, err := o.Store.ListPaymentsByUser(ctx, userID, paymentPageSize, (page-1)*paymentPageSize)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Payment{}
	}
	return &PaymentPage{Items: items, Total: total, Page: page, Size: paymentPageSize}, nil
}

// ListPlans returns the purchasable plans, cached under the plans version token.
func (o *Orchestrator) ListPlans(ctx context.Context) ([]Plan, error) {
	if o.Cache == nil {
		return o.Store.ListActivePlans(ctx)
	}
	key, err := o.Cache.VersionedKey(ctx, "plans", "active")
	if err != nil {
		return nil, fmt.Errorf("plans cache key: %w", err)
	}
	return cache.GetOrCreate(ctx, o.Cache, key, 0, o.Store.ListActivePlans)
}
