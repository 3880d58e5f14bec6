// Package dispute mirrors buyer claims and card chargebacks raised on the
// gateway and lets support staff and users act on them.
package dispute

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClaimStatus string

const (
	ClaimNew               ClaimStatus = "new"
	ClaimUnderReview       ClaimStatus = "under_review"
	ClaimRespondedBySeller ClaimStatus = "responded_by_seller"
	ClaimInMediation       ClaimStatus = "in_mediation"
	ClaimResolvedWon       ClaimStatus = "resolved_won"
	ClaimResolvedLost      ClaimStatus = "resolved_lost"
)

// Resolved reports whether the claim is closed on the gateway.
func (s ClaimStatus) Resolved() bool {
	return s == ClaimResolvedWon || s == ClaimResolvedLost
}

// Claim is the local record of a gateway claim. The message thread is not
// stored; it is read live from the gateway.
type Claim struct {
	ID                string      `json:"id"`
	ExternalID        string      `json:"external_id"`
	UserID            string      `json:"user_id"`
	PaymentExternalID string      `json:"payment_external_id"`
	Type              string      `json:"type"`
	Stage             string      `json:"stage"`
	Status            ClaimStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type ClaimMessage struct {
	ID           string    `json:"id"`
	SenderRole   string    `json:"sender_role"`
	ReceiverRole string    `json:"receiver_role"`
	Message      string    `json:"message"`
	Attachments  []string  `json:"attachments,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ClaimDetail struct {
	Claim
	Messages            []ClaimMessage `json:"messages"`
	MessagesUnavailable bool           `json:"messages_unavailable"`
}

type ClaimQuery struct {
	Search string
	Status string
	Page   int
}

// ClaimFilter is what the store understands; an empty UserID means all users.
type ClaimFilter struct {
	UserID string
	Search string
	Status ClaimStatus
	Limit  int
	Offset int
}

type ClaimPage struct {
	Items []Claim `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"size"`
}

type ChargebackStatus string

const (
	ChargebackNew              ChargebackStatus = "new"
	ChargebackAwaitingEvidence ChargebackStatus = "awaiting_evidence"
	ChargebackEvidenceSent     ChargebackStatus = "evidence_sent"
	ChargebackWon              ChargebackStatus = "won"
	ChargebackLost             ChargebackStatus = "lost"
)

type Chargeback struct {
	ID                string           `json:"id"`
	ExternalID        string           `json:"external_id"`
	UserID            string           `json:"user_id"`
	PaymentExternalID string           `json:"payment_external_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	Status            ChargebackStatus `json:"status"`
	InternalNotes     string           `json:"internal_notes"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type ChargebackFilter struct {
	Status ChargebackStatus
	Limit  int
	Offset int
}

type ChargebackPage struct {
	Items []Chargeback `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

// ChargebackUpdate is an admin edit; nil fields are left alone.
type ChargebackUpdate struct {
	Status        *string `json:"status" validate:"omitempty,oneof=new awaiting_evidence evidence_sent won lost"`
	InternalNotes *string `json:"internal_notes" validate:"omitempty,max=4000"`
}
