// Package memory is an in-process implementation of the billing and dispute
// stores, used in development (STORAGE_DRIVER=memory) and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/infra/apperr"
)

// Store keeps every record in maps guarded by one RWMutex. Values are
// copied in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	seq           int64
	subscriptions map[string]*row[billing.Subscription]
	payments      map[string]*row[billing.Payment]
	plans         map[string]*billing.Plan
	claims        map[string]*dispute.Claim
	chargebacks   map[string]*dispute.Chargeback
	customers     map[string]string
}

// row remembers insertion order so "latest" is stable for equal timestamps.
type row[T any] struct {
	seq   int64
	value T
}

var (
	_ billing.Store = (*Store)(nil)
	_ dispute.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*row[billing.Subscription]),
		payments:      make(map[string]*row[billing.Payment]),
		plans:         make(map[string]*billing.Plan),
		claims:        make(map[string]*dispute.Claim),
		chargebacks:   make(map[string]*dispute.Chargeback),
		customers:     make(map[string]string),
	}
}

func (s *Store) next() int64 {
	s.seq++
	return s.seq
}

// AddPlan inserts or replaces a plan.
func (s *Store) AddPlan(p billing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.plans[p.ID] = &p
}

// Subscriptions

func (s *Store) CreateSubscription(_ context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return apperr.Conflict("subscription %s already exists", sub.ID)
	}
	if sub.ExternalID != "" {
		for _, r := range s.subscriptions {
			if r.value.ExternalID == sub.ExternalID {
				return apperr.Conflict("subscription with external id %s already exists", sub.ExternalID)
			}
		}
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	s.subscriptions[sub.ID] = &row[billing.Subscription]{seq: s.next(), value: *sub}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.subscriptions[id]
	if !ok {
		return nil, apperr.NotFound("subscription %s not found", id)
	}
	out := r.value
	return &out, nil
}

func (s *Store) GetSubscriptionByExternalID(_ context.Context, externalID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.subscriptions {
		if externalID != "" && r.value.ExternalID == externalID {
			out := r.value
			return &out, nil
		}
	}
	return nil, apperr.NotFound("subscription with external id %s not found", externalID)
}

func (s *Store) LatestSubscriptionForUser(_ context.Context, userID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *row[billing.Subscription]
	for _, r := range s.subscriptions {
		if r.value.UserID != userID {
			continue
		}
		if latest == nil || r.value.CreatedAt.After(latest.value.CreatedAt) ||
			(r.value.CreatedAt.Equal(latest.value.CreatedAt) && r.seq > latest.seq) {
			latest = r
		}
	}
	if latest == nil {
		return nil, apperr.NotFound("no subscription for user %s", userID)
	}
	out := latest.value
	return &out, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.subscriptions[sub.ID]
	if !ok {
		return apperr.NotFound("subscription %s not found", sub.ID)
	}
	if r.value.Version != sub.Version {
		return apperr.Conflict("subscription %s was modified concurrently", sub.ID)
	}
	sub.Version++
	r.value = *sub
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return apperr.NotFound("subscription %s not found", id)
	}
	for _, r := range s.payments {
		if r.value.SubscriptionID == id {
			return apperr.Business("subscription %s has payments and cannot be deleted", id)
		}
	}
	delete(s.subscriptions, id)
	return nil
}

// Payments

func (s *Store) externalIDTaken(externalID, exceptID string) bool {
	if externalID == "" {
		return false
	}
	for id, r := range s.payments {
		if id != exceptID && r.value.ExternalID == externalID {
			return true
		}
	}
	return false
}

func (s *Store) CreatePayment(_ context.Context, p *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ID]; ok {
		return apperr.Conflict("payment %s already exists", p.ID)
	}
	if s.externalIDTaken(p.ExternalID, p.ID) {
		return apperr.Conflict("payment with external id %s already exists", p.ExternalID)
	}
	if p.SubscriptionID != "" {
		if _, ok := s.subscriptions[p.SubscriptionID]; !ok {
			return apperr.NotFound("subscription %s not found", p.SubscriptionID)
		}
	}
	s.payments[p.ID] = &row[billing.Payment]{seq: s.next(), value: *p}
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %s not found", id)
	}
	out := r.value
	return &out, nil
}

func (s *Store) GetPaymentByExternalID(_ context.Context, externalID string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.payments {
		if externalID != "" && r.value.ExternalID == externalID {
			out := r.value
			return &out, nil
		}
	}
	return nil, apperr.NotFound("payment with external id %s not found", externalID)
}

// newestFirst sorts by creation time, then insertion order.
func newestFirst[T any](rows []*row[T], created func(T) time.Time) {
	sort.Slice(rows, func(i, j int) bool {
		ci, cj := created(rows[i].value), created(rows[j].value)
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return rows[i].seq > rows[j].seq
	})
}

func paymentCreated(p billing.Payment) time.Time { return p.CreatedAt }

func (s *Store) ListPaymentsByUser(_ context.Context, userID string, limit, offset int) ([]billing.Payment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*row[billing.Payment]
	for _, r := range s.payments {
		if r.value.UserID == userID {
			rows = append(rows, r)
		}
	}
	newestFirst(rows, paymentCreated)

	total := len(rows)
	out := make([]billing.Payment, 0, limit)
	for i := offset; i < total && len(out) < limit; i++ {
		out = append(out, rows[i].value)
	}
	return out, total, nil
}

func (s *Store) LatestApprovedPayment(_ context.Context, subscriptionID string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*row[billing.Payment]
	for _, r := range s.payments {
		if r.value.SubscriptionID == subscriptionID && r.value.Status == billing.PaymentApproved {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("no approved payment for subscription %s", subscriptionID)
	}
	sort.Slice(rows, func(i, j int) bool {
		ai, aj := approvedOrCreated(rows[i].value), approvedOrCreated(rows[j].value)
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return rows[i].seq > rows[j].seq
	})
	out := rows[0].value
	return &out, nil
}

func approvedOrCreated(p billing.Payment) time.Time {
	if p.ApprovedAt != nil {
		return *p.ApprovedAt
	}
	return p.CreatedAt
}

func (s *Store) RecordGatewayResult(_ context.Context, p *billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.payments[p.ID]
	if !ok {
		return apperr.NotFound("payment %s not found", p.ID)
	}
	if s.externalIDTaken(p.ExternalID, p.ID) {
		return apperr.Conflict("payment with external id %s already exists", p.ExternalID)
	}
	r.value.ExternalID = p.ExternalID
	r.value.Status = p.Status
	r.value.LastFourDigits = p.LastFourDigits
	r.value.ApprovedAt = p.ApprovedAt
	r.value.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, id string, from, to billing.PaymentStatus, approvedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.payments[id]
	if !ok {
		return false, apperr.NotFound("payment %s not found", id)
	}
	if r.value.Status != from {
		return false, nil
	}
	r.value.Status = to
	r.value.ApprovedAt = approvedAt
	r.value.UpdatedAt = time.Now()
	return true, nil
}

// Customers

func (s *Store) GetCustomerID(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.customers[userID]
	if !ok {
		return "", apperr.NotFound("no gateway customer for user %s", userID)
	}
	return id, nil
}

func (s *Store) SaveCustomerID(_ context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[userID] = customerID
	return nil
}

// Plans

func (s *Store) GetPlan(_ context.Context, id string) (*billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.plans[id]; ok {
		out := *p
		return &out, nil
	}
	for _, p := range s.plans {
		if p.PublicID == id {
			out := *p
			return &out, nil
		}
	}
	return nil, apperr.NotFound("plan %s not found", id)
}

func (s *Store) GetPlanByExternalID(_ context.Context, externalID string) (*billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.ExternalID == externalID {
			out := *p
			return &out, nil
		}
	}
	return nil, apperr.NotFound("plan with external id %s not found", externalID)
}

func (s *Store) ListActivePlans(_ context.Context) ([]billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []billing.Plan{}
	for _, p := range s.plans {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount.LessThan(out[j].Amount) })
	return out, nil
}

// Claims

func (s *Store) UpsertClaim(_ context.Context, c *dispute.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.claims {
		if existing.ExternalID != c.ExternalID {
			continue
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.UserID == "" {
			c.UserID = existing.UserID
		}
		*existing = *c
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	stored := *c
	s.claims[c.ID] = &stored
	return nil
}

func (s *Store) GetClaim(_ context.Context, id string) (*dispute.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[id]
	if !ok {
		return nil, apperr.NotFound("claim %s not found", id)
	}
	out := *c
	return &out, nil
}

func (s *Store) GetClaimByExternalID(_ context.Context, externalID string) (*dispute.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.claims {
		if c.ExternalID == externalID {
			out := *c
			return &out, nil
		}
	}
	return nil, apperr.NotFound("claim with external id %s not found", externalID)
}

func (s *Store) ListClaims(_ context.Context, f dispute.ClaimFilter) ([]dispute.Claim, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var matched []dispute.Claim
	for _, c := range s.claims {
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.ExternalID), search) &&
			!strings.Contains(strings.ToLower(c.PaymentExternalID), search) &&
			!strings.Contains(strings.ToLower(c.Type), search) {
			continue
		}
		matched = append(matched, *c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset >= total {
		return []dispute.Claim{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) ListOpenClaims(_ context.Context) ([]dispute.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dispute.Claim
	for _, c := range s.claims {
		if !c.Status.Resolved() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) UpdateClaimStatus(_ context.Context, id string, status dispute.ClaimStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return apperr.NotFound("claim %s not found", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// Chargebacks

func (s *Store) UpsertChargeback(_ context.Context, cb *dispute.Chargeback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chargebacks {
		if existing.ExternalID != cb.ExternalID {
			continue
		}
		cb.ID = existing.ID
		cb.CreatedAt = existing.CreatedAt
		cb.InternalNotes = existing.InternalNotes
		*existing = *cb
		return nil
	}
	if cb.ID == "" {
		cb.ID = uuid.NewString()
	}
	stored := *cb
	s.chargebacks[cb.ID] = &stored
	return nil
}

func (s *Store) GetChargeback(_ context.Context, id string) (*dispute.Chargeback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.chargebacks[id]
	if !ok {
		return nil, apperr.NotFound("chargeback %s not found", id)
	}
	out := *cb
	return &out, nil
}

func (s *Store) ListChargebacks(_ context.Context, f dispute.ChargebackFilter) ([]dispute.Chargeback, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []dispute.Chargeback
	for _, cb := range s.chargebacks {
		if f.Status == "" || cb.Status == f.Status {
			matched = append(matched, *cb)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset >= total {
		return []dispute.Chargeback{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) UpdateChargeback(_ context.Context, cb *dispute.Chargeback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.chargebacks[cb.ID]
	if !ok {
		return apperr.NotFound("chargeback %s not found", cb.ID)
	}
	existing.Status = cb.Status
	existing.InternalNotes = cb.InternalNotes
	existing.UpdatedAt = cb.UpdatedAt
	return nil
}
