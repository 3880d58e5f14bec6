package dispute

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
)

const (
	pageSize = 10

	claimsCollection      = "claims"
	chargebacksCollection = "chargebacks"

	receiverComplainant = "complainant"
	receiverRespondent  = "respondent"

	// searchLimit is the page size used when discovering claims on the gateway.
	searchLimit = 50
)

// Notifier pushes updates to connected clients.
type Notifier interface {
	Publish(subject string, u fanout.Update) int
}

type Deps struct {
	Store    Store
	Gateway  gateway.API
	Cache    *cache.ResponseCache
	Notifier Notifier
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Mediator handles claims and chargebacks.
type Mediator struct {
	Deps
}

func NewMediator(d Deps) *Mediator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	return &Mediator{Deps: d}
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// ListClaims returns one page of claims: all of them for admins, the
// caller's own otherwise.
func (m *Mediator) ListClaims(ctx context.Context, actor auth.Identity, q ClaimQuery) (*ClaimPage, error) {
	page := normalizePage(q.Page)
	f := ClaimFilter{
		Search: strings.TrimSpace(q.Search),
		Status: ClaimStatus(strings.ToLower(strings.TrimSpace(q.Status))),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	scope := "all"
	if !actor.IsAdmin() {
		f.UserID = actor.UserID
		scope = "user:" + actor.UserID
	}

	load := func(ctx context.Context) (*ClaimPage, error) {
		items, total, err := m.Store.ListClaims(ctx, f)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Claim{}
		}
		return &ClaimPage{Items: items, Total: total, Page: page, Size: pageSize}, nil
	}
	if m.Cache == nil {
		return load(ctx)
	}

	key, err := m.Cache.VersionedKey(ctx, claimsCollection, scope, string(f.Status), f.Search, strconv.Itoa(page))
	if err != nil {
		return nil, fmt.Errorf("claims cache key: %w", err)
	}
	return cache.GetOrCreate(ctx, m.Cache, key, 0, load)
}

func (m *Mediator) claimFor(ctx context.Context, actor auth.Identity, id string) (*Claim, error) {
	c, err := m.Store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(c.UserID) {
		return nil, apperr.Forbidden("not allowed to access this claim")
	}
	return c, nil
}

// GetClaimDetail returns the claim with its message thread read from the
// gateway. A failed fetch still returns the claim.
func (m *Mediator) GetClaimDetail(ctx context.Context, actor auth.Identity, id string) (*ClaimDetail, error) {
	c, err := m.claimFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	detail := &ClaimDetail{Claim: *c, Messages: []ClaimMessage{}}
	msgs, err := m.Gateway.GetClaimMessages(ctx, c.ExternalID)
	if err != nil {
		logger.Warn("claim messages unavailable: "+err.Error(), logger.LogContext{
			UserID:    actor.UserID,
			Operation: "claim.detail",
			Fields:    map[string]any{"claim_id": c.ID},
		})
		detail.MessagesUnavailable = true
		return detail, nil
	}

	for _, msg := range msgs {
		out := ClaimMessage{
			ID:           msg.ID,
			SenderRole:   msg.SenderRole,
			ReceiverRole: msg.ReceiverRole,
			Message:      msg.Message,
			CreatedAt:    msg.DateCreated,
		}
		for _, a := range msg.Attachments {
			out.Attachments = append(out.Attachments, a.OriginalFilename)
		}
		detail.Messages = append(detail.Messages, out)
	}
	return detail, nil
}

// Reply posts a message on the claim thread. Staff write to the buyer and
// mark the claim answered; the buyer writes to the seller.
func (m *Mediator) Reply(ctx context.Context, actor auth.Identity, id, message string) (*Claim, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation("message must not be empty")
	}

	c, err := m.claimFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Resolved() {
		return nil, apperr.Business("claim is already resolved")
	}

	receiver := receiverRespondent
	if actor.IsAdmin() {
		receiver = receiverComplainant
	}
	if err := m.Gateway.SendClaimMessage(ctx, c.ExternalID, gateway.ClaimMessageRequest{
		ReceiverRole: receiver,
		Message:      message,
	}); err != nil {
		return nil, err
	}

	if actor.IsAdmin() && c.Status != ClaimInMediation {
		if err := m.setClaimStatus(ctx, c, ClaimRespondedBySeller); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// EscalateToMediation asks the gateway to step in. It cannot be undone.
func (m *Mediator) EscalateToMediation(ctx context.Context, actor auth.Identity, id string) (*Claim, error) {
	c, err := m.claimFor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Status == ClaimInMediation:
		return nil, apperr.Business("claim is already in mediation")
	case c.Status.Resolved():
		return nil, apperr.Business("claim is already resolved")
	}

	if err := m.Gateway.OpenDispute(ctx, c.ExternalID); err != nil {
		return nil, err
	}
	if err := m.setClaimStatus(ctx, c, ClaimInMediation); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Mediator) setClaimStatus(ctx context.Context, c *Claim, status ClaimStatus) error {
	if c.Status == status {
		return nil
	}
	from := c.Status
	if err := m.Store.UpdateClaimStatus(ctx, c.ID, status); err != nil {
		return err
	}
	c.Status = status
	c.UpdatedAt = m.Now()
	m.claimChanged(ctx, c, from)
	return nil
}

func (m *Mediator) claimChanged(ctx context.Context, c *Claim, from ClaimStatus) {
	m.bump(ctx, claimsCollection)
	logger.Info(fmt.Sprintf("claim %s: %s -> %s", c.ExternalID, from, c.Status), logger.LogContext{
		UserID:    c.UserID,
		Operation: "claim.status",
	})
	if m.Notifier != nil && c.UserID != "" {
		m.Notifier.Publish(fanout.UserSubject(c.UserID), fanout.Update{Type: "claim", Status: string(c.Status), ResourceID: c.ID})
	}
	if err := m.Events.Publish(ctx, events.Event{
		Type:   events.ClaimUpdated,
		Key:    c.ExternalID,
		UserID: c.UserID,
		Data:   map[string]string{"from": string(from), "to": string(c.Status)},
	}); err != nil {
		logger.Warn("failed to publish claim event: " + err.Error())
	}
}

func (m *Mediator) bump(ctx context.Context, collection string) {
	if m.Cache == nil {
		return
	}
	if err := m.Cache.BumpVersion(ctx, collection); err != nil {
		logger.Warn("failed to bump " + collection + " cache version: " + err.Error())
	}
}

// ownerOf finds the user behind a gateway payment or preapproval id. An
// unknown resource yields an empty user id.
func (m *Mediator) ownerOf(ctx context.Context, resourceID string) (string, error) {
	if resourceID == "" {
		return "", nil
	}
	p, err := m.Store.GetPaymentByExternalID(ctx, resourceID)
	if err == nil {
		return p.UserID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	s, err := m.Store.GetSubscriptionByExternalID(ctx, resourceID)
	if err == nil {
		return s.UserID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	return "", nil
}

// SyncClaim pulls a claim from the gateway and stores its current state.
func (m *Mediator) SyncClaim(ctx context.Context, externalID string) error {
	gc, err := m.Gateway.GetClaim(ctx, externalID)
	if err != nil {
		return err
	}
	return m.ingestClaim(ctx, gc)
}

// keepLocalProgress stops a stale gateway reading from undoing a local move:
// a seller answer stands until the gateway moves the claim on, and mediation
// is left only for a resolution.
func keepLocalProgress(local, remote ClaimStatus) ClaimStatus {
	switch {
	case local == ClaimRespondedBySeller && remote == ClaimUnderReview:
		return local
	case local == ClaimInMediation && !remote.Resolved():
		return local
	}
	return remote
}

func (m *Mediator) ingestClaim(ctx context.Context, gc *gateway.Claim) error {
	externalID := strconv.FormatInt(gc.ID, 10)
	status := ClaimStatus(gateway.MapClaimStatus(gc.Status, gc.Stage))

	existing, err := m.Store.GetClaimByExternalID(ctx, externalID)
	switch {
	case err == nil:
		status = keepLocalProgress(existing.Status, status)
		if existing.Status == status && existing.Stage == gc.Stage {
			return nil
		}
	case errors.Is(err, apperr.ErrNotFound):
		existing = nil
	default:
		return err
	}

	userID, err := m.ownerOf(ctx, gc.ResourceID)
	if err != nil {
		return err
	}
	if userID == "" {
		logger.Warn("claim " + externalID + " references an unknown resource " + gc.ResourceID)
	}

	now := m.Now()
	c := &Claim{
		ExternalID:        externalID,
		UserID:            userID,
		PaymentExternalID: gc.ResourceID,
		Type:              gc.Type,
		Stage:             gc.Stage,
		Status:            status,
		CreatedAt:         gc.DateCreated,
		UpdatedAt:         now,
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if err := m.Store.UpsertClaim(ctx, c); err != nil {
		return err
	}

	from := ClaimNew
	if existing != nil {
		from = existing.Status
	}
	m.claimChanged(ctx, c, from)
	return nil
}

// RefreshOpenClaims polls the gateway for every unresolved claim and for
// claims not seen yet. It returns the number of claims checked.
func (m *Mediator) RefreshOpenClaims(ctx context.Context) (int, error) {
	checked := 0
	seen := make(map[string]bool)

	for offset := 0; ; offset += searchLimit {
		res, err := m.Gateway.SearchClaims(ctx, receiverRespondent, offset, searchLimit)
		if err != nil {
			return checked, err
		}
		for i := range res.Results {
			gc := res.Results[i]
			seen[strconv.FormatInt(gc.ID, 10)] = true
			if err := m.ingestClaim(ctx, &gc); err != nil {
				return checked, err
			}
			checked++
		}
		if len(res.Results) < searchLimit || offset+searchLimit >= res.Paging.Total {
			break
		}
	}

	open, err := m.Store.ListOpenClaims(ctx)
	if err != nil {
		return checked, err
	}
	for _, c := range open {
		if seen[c.ExternalID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return checked, err
		}
		if err := m.SyncClaim(ctx, c.ExternalID); err != nil {
			logger.Warn("claim refresh failed for " + c.ExternalID + ": " + err.Error())
			continue
		}
		checked++
	}
	return checked, nil
}

// StartClaimPoller runs RefreshOpenClaims every interval until ctx ends.
func (m *Mediator) StartClaimPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.RefreshOpenClaims(ctx)
				if err != nil {
					logger.Error("claim refresh failed", err, logger.LogContext{Operation: "claim.poll"})
					continue
				}
				logger.Debug(fmt.Sprintf("claim refresh checked %d claims", n))
			}
		}
	}()
}
