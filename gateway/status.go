package gateway

// Local payment statuses.
const (
	PaymentApproved = "approved"
	PaymentPending  = "pending"
	PaymentRejected = "rejected"
	PaymentRefunded = "refunded"
)

var paymentStatuses = map[string]string{
	"approved":     PaymentApproved,
	"pending":      PaymentPending,
	"in_process":   PaymentPending,
	"authorized":   PaymentPending,
	"in_mediation": PaymentPending,
	"rejected":     PaymentRejected,
	"cancelled":    PaymentRejected,
	"refunded":     PaymentRefunded,
	"charged_back": PaymentRefunded,
}

// MapPaymentStatus translates a gateway payment status to the local one.
// Unknown values map to pending.
func MapPaymentStatus(gatewayStatus string) string {
	if s, ok := paymentStatuses[gatewayStatus]; ok {
		return s
	}
	return PaymentPending
}

var claimStatuses = map[string]string{
	"opened":           "under_review",
	"closed":           "resolved_won",
	"refund_delivered": "resolved_lost",
}

// MapClaimStatus translates gateway claim status and stage to a local claim
// status. A claim in the dispute stage is in mediation until closed.
func MapClaimStatus(status, stage string) string {
	if stage == "dispute" && status == "opened" {
		return "in_mediation"
	}
	if s, ok := claimStatuses[status]; ok {
		return s
	}
	return "new"
}

var chargebackStatuses = map[string]string{
	"pending_documentation": "awaiting_evidence",
	"review_pending":        "evidence_sent",
	"documentation_sent":    "evidence_sent",
	"covered":               "won",
	"reimbursed":            "won",
	"not_covered":           "lost",
	"charged":               "lost",
}

// MapChargebackStatus translates the gateway documentation/coverage status.
func MapChargebackStatus(gatewayStatus string) string {
	if s, ok := chargebackStatuses[gatewayStatus]; ok {
		return s
	}
	return "new"
}
