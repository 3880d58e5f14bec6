package gateway

import "time"

// Identification is the payer's tax document.
type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type Payer struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

// PaymentRequest is the body of POST /v1/payments.
type PaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Token             string  `json:"token,omitempty"`
	Description       string  `json:"description,omitempty"`
	Installments      int     `json:"installments,omitempty"`
	PaymentMethodID   string  `json:"payment_method_id"`
	IssuerID          string  `json:"issuer_id,omitempty"`
	Payer             Payer   `json:"payer"`
	ExternalReference string  `json:"external_reference,omitempty"`
	NotificationURL   string  `json:"notification_url,omitempty"`
}

type TransactionData struct {
	QRCode       string `json:"qr_code,omitempty"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

type PointOfInteraction struct {
	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

type Card struct {
	LastFourDigits string `json:"last_four_digits"`
}

type PaymentMetadata struct {
	PreapprovalID string `json:"preapproval_id,omitempty"`
}

// Payment is the gateway view of a payment.
type Payment struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"`
	StatusDetail       string              `json:"status_detail"`
	TransactionAmount  float64             `json:"transaction_amount"`
	CurrencyID         string              `json:"currency_id"`
	PaymentMethodID    string              `json:"payment_method_id"`
	Installments       int                 `json:"installments"`
	ExternalReference  string              `json:"external_reference"`
	Payer              Payer               `json:"payer"`
	Card               *Card               `json:"card,omitempty"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`
	Metadata           *PaymentMetadata    `json:"metadata,omitempty"`
	DateCreated        time.Time           `json:"date_created"`
	DateApproved       *time.Time          `json:"date_approved,omitempty"`
}

// PreapprovalID returns the recurring billing agreement the payment belongs
// to, if any.
func (p *Payment) PreapprovalID() string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata.PreapprovalID
}

func (p *Payment) LastFourDigits() string {
	if p.Card == nil {
		return ""
	}
	return p.Card.LastFourDigits
}

// RefundRequest leaves Amount nil for a full refund.
type RefundRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}

type Refund struct {
	ID        int64     `json:"id"`
	PaymentID int64     `json:"payment_id"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"date_created"`
}

// PreapprovalRequest is the body of POST /preapproval.
type PreapprovalRequest struct {
	PreapprovalPlanID string `json:"preapproval_plan_id"`
	Reason            string `json:"reason,omitempty"`
	PayerEmail        string `json:"payer_email"`
	CardTokenID       string `json:"card_token_id"`
	BackURL           string `json:"back_url,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	Status            string `json:"status,omitempty"`
}

type AutoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

// Preapproval is a recurring billing agreement.
type Preapproval struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	PreapprovalPlanID string         `json:"preapproval_plan_id"`
	PayerEmail        string         `json:"payer_email"`
	ExternalReference string         `json:"external_reference"`
	AutoRecurring     *AutoRecurring `json:"auto_recurring,omitempty"`
	Card              *Card          `json:"card,omitempty"`
	DateCreated       time.Time      `json:"date_created"`
	NextPaymentDate   *time.Time     `json:"next_payment_date,omitempty"`
}

// PreapprovalUpdate is the body of PUT /preapproval/{id}. Only non-empty
// fields are sent.
type PreapprovalUpdate struct {
	Status        string               `json:"status,omitempty"`
	AutoRecurring *AutoRecurringUpdate `json:"auto_recurring,omitempty"`
}

type AutoRecurringUpdate struct {
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id,omitempty"`
}

type Player struct {
	Role   string `json:"role"`
	UserID int64  `json:"user_id"`
	Type   string `json:"type"`
}

// Claim is a buyer complaint on the gateway.
type Claim struct {
	ID          int64     `json:"id"`
	ResourceID  string    `json:"resource_id"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	Stage       string    `json:"stage"`
	Players     []Player  `json:"players,omitempty"`
	DateCreated time.Time `json:"date_created"`
	LastUpdated time.Time `json:"last_updated"`
}

type Paging struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ClaimSearch struct {
	Paging  Paging  `json:"paging"`
	Results []Claim `json:"results"`
}

type Attachment struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
}

type ClaimMessage struct {
	ID           string       `json:"id"`
	SenderRole   string       `json:"sender_role"`
	ReceiverRole string       `json:"receiver_role"`
	Message      string       `json:"message"`
	DateCreated  time.Time    `json:"date_created"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

type ClaimMessageRequest struct {
	ReceiverRole string   `json:"receiver_role"`
	Message      string   `json:"message"`
	Attachments  []string `json:"attachments,omitempty"`
}

// Chargeback is a card network dispute raised against a payment.
type Chargeback struct {
	ID            string    `json:"id"`
	Payments      []int64   `json:"payments"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Documentation string    `json:"documentation_status"`
	DateCreated   time.Time `json:"date_created"`
	LastUpdated   time.Time `json:"last_updated"`
}

type CustomerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Customer holds the saved cards of one payer.
type Customer struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DateCreated time.Time `json:"date_created"`
}

type CustomerSearch struct {
	Paging  Paging     `json:"paging"`
	Results []Customer `json:"results"`
}

type CardRequest struct {
	Token string `json:"token"`
}

type CardPaymentMethod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CustomerCard is a card saved on a customer.
type CustomerCard struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	LastFourDigits  string            `json:"last_four_digits"`
	ExpirationMonth int               `json:"expiration_month"`
	ExpirationYear  int               `json:"expiration_year"`
	PaymentMethod   CardPaymentMethod `json:"payment_method"`
	DateCreated     time.Time         `json:"date_created"`
}

type PreferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type PreferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest is the body of POST /checkout/preferences.
type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             PreferencePayer  `json:"payer"`
	Purpose           string           `json:"purpose,omitempty"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	BackURLs          *BackURLs        `json:"back_urls,omitempty"`
	AutoReturn        string           `json:"auto_return,omitempty"`
}

// Preference is a hosted checkout; InitPoint is where the payer is sent.
type Preference struct {
	ID                string    `json:"id"`
	InitPoint         string    `json:"init_point"`
	SandboxInitPoint  string    `json:"sandbox_init_point"`
	ExternalReference string    `json:"external_reference"`
	DateCreated       time.Time `json:"date_created"`
}
