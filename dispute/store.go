package dispute

import (
	"context"

	"github.com/mstgnz/coursepay/billing"
)

// ClaimStore persists claims. Lookups return an apperr NotFound error when
// nothing matches.
type ClaimStore interface {
	// UpsertClaim inserts c or updates the claim with the same ExternalID,
	// filling c.ID and c.CreatedAt from the stored row.
	UpsertClaim(ctx context.Context, c *Claim) error
	GetClaim(ctx context.Context, id string) (*Claim, error)
	GetClaimByExternalID(ctx context.Context, externalID string) (*Claim, error)
	ListClaims(ctx context.Context, f ClaimFilter) ([]Claim, int, error)
	// ListOpenClaims returns every claim that is not resolved.
	ListOpenClaims(ctx context.Context) ([]Claim, error)
	UpdateClaimStatus(ctx context.Context, id string, status ClaimStatus) error
}

type ChargebackStore interface {
	UpsertChargeback(ctx context.Context, c *Chargeback) error
	GetChargeback(ctx context.Context, id string) (*Chargeback, error)
	ListChargebacks(ctx context.Context, f ChargebackFilter) ([]Chargeback, int, error)
	UpdateChargeback(ctx context.Context, c *Chargeback) error
}

// Owners resolves which user a gateway resource belongs to.
type Owners interface {
	GetPaymentByExternalID(ctx context.Context, externalID string) (*billing.Payment, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*billing.Subscription, error)
}

type Store interface {
	ClaimStore
	ChargebackStore
	Owners
}
