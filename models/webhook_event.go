package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEventStatus is the processing state of a ledger entry.
type WebhookEventStatus string

const (
	WebhookEventApplied  WebhookEventStatus = "applied"
	WebhookEventDeferred WebhookEventStatus = "deferred"
)

// WebhookEvent records every provider event the reconciler has claimed. The
// unique event id makes redelivery a no-op; deferred rows keep the typed event
// so it can be replayed once its payment exists.
type WebhookEvent struct {
	ID        uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID   string             `gorm:"type:varchar(255);uniqueIndex;not null" json:"event_id"`
	EventType string             `gorm:"type:varchar(100);index;not null" json:"event_type"`
	Status    WebhookEventStatus `gorm:"type:varchar(20);index;not null" json:"status"`

	CheckoutSessionID string `gorm:"type:varchar(255);index" json:"checkout_session_id,omitempty"`
	PaymentIntentID   string `gorm:"type:varchar(255);index" json:"payment_intent_id,omitempty"`
	ChargeID          string `gorm:"type:varchar(255);index" json:"charge_id,omitempty"`

	PaymentID   *uuid.UUID     `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
	ReceivedAt  time.Time      `gorm:"autoCreateTime" json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// Identifiers returns the correlation identifiers carried by the event.
func (e *WebhookEvent) Identifiers() StripeIdentifiers {
	return StripeIdentifiers{
		CheckoutSessionID: e.CheckoutSessionID,
		PaymentIntentID:   e.PaymentIntentID,
		ChargeID:          e.ChargeID,
	}
}
