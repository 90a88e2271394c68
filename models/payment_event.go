package models

import "time"

// PaymentEvent is published whenever a reconciled payment changes status.
type PaymentEvent struct {
	Type           string        `json:"type"` // e.g. "payment_succeeded", "payment_refunded"
	PaymentID      string        `json:"payment_id"`
	UserID         string        `json:"user_id,omitempty"`
	Status         PaymentStatus `json:"status"`
	PreviousStatus PaymentStatus `json:"previous_status,omitempty"`
	Amount         int64         `json:"amount"` // smallest currency unit
	AmountRefunded int64         `json:"amount_refunded"`
	Currency       string        `json:"currency"`
	Timestamp      time.Time     `json:"timestamp"` // UTC event time
}
