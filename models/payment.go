package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PaymentStatus is the lifecycle status of a reconciled payment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusDisputed          PaymentStatus = "disputed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed,
		PaymentStatusDisputed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// Payment is the local ledger row for one customer payment. It is correlated to
// Stripe through up to three identifiers, each unique across the table.
type Payment struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`

	StripeCheckoutSessionID *string `gorm:"type:varchar(255);uniqueIndex" json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string `gorm:"type:varchar(255);uniqueIndex" json:"stripe_payment_intent_id,omitempty"`
	StripeChargeID          *string `gorm:"type:varchar(255);uniqueIndex" json:"stripe_charge_id,omitempty"`

	Amount         int64         `gorm:"not null;default:0" json:"amount"` // minor units
	AmountCaptured int64         `gorm:"not null;default:0" json:"amount_captured"`
	AmountRefunded int64         `gorm:"not null;default:0" json:"amount_refunded"`
	Currency       string        `gorm:"type:varchar(10)" json:"currency"`
	Status         PaymentStatus `gorm:"type:varchar(32);index;not null" json:"status"`

	PaymentMethod string `gorm:"type:varchar(64)" json:"payment_method,omitempty"`
	ReceiptURL    string `gorm:"type:varchar(1024)" json:"receipt_url,omitempty"`
	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name,omitempty"`
	ProductID     string `gorm:"type:varchar(64);index" json:"product_id,omitempty"`
	ProductName   string `gorm:"type:varchar(255)" json:"product_name,omitempty"`
	Quantity      int64  `gorm:"not null;default:1" json:"quantity"`
	UserID        string `gorm:"type:varchar(64);index" json:"user_id,omitempty"`

	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	DisputedAt *time.Time `json:"disputed_at,omitempty"`

	Disputed      bool   `gorm:"not null;default:false" json:"disputed"`
	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`
	DisputeReason string `gorm:"type:text" json:"dispute_reason,omitempty"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	Version   int       `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StripeIdentifiers is the correlation key set of a payment.
type StripeIdentifiers struct {
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
	PaymentIntentID   string `json:"payment_intent_id,omitempty"`
	ChargeID          string `json:"charge_id,omitempty"`
}

// Empty reports whether no identifier is set.
func (ids StripeIdentifiers) Empty() bool {
	return ids.CheckoutSessionID == "" && ids.PaymentIntentID == "" && ids.ChargeID == ""
}

// Union fills the blanks of ids from other.
func (ids StripeIdentifiers) Union(other StripeIdentifiers) StripeIdentifiers {
	if ids.CheckoutSessionID == "" {
		ids.CheckoutSessionID = other.CheckoutSessionID
	}
	if ids.PaymentIntentID == "" {
		ids.PaymentIntentID = other.PaymentIntentID
	}
	if ids.ChargeID == "" {
		ids.ChargeID = other.ChargeID
	}
	return ids
}

// Identifiers returns the identifiers currently stored on the payment.
func (p *Payment) Identifiers() StripeIdentifiers {
	return StripeIdentifiers{
		CheckoutSessionID: deref(p.StripeCheckoutSessionID),
		PaymentIntentID:   deref(p.StripePaymentIntentID),
		ChargeID:          deref(p.StripeChargeID),
	}
}

// NetAmount is the amount kept after refunds.
func (p *Payment) NetAmount() int64 {
	if p.AmountRefunded >= p.Amount {
		return 0
	}
	return p.Amount - p.AmountRefunded
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
