package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mitantsoa1/gns-preprod/models"
)

// Kind is the provider event type a variant was decoded from.
type Kind string

const (
	KindCheckoutCompleted Kind = "checkout.session.completed"
	KindIntentSucceeded   Kind = "payment_intent.succeeded"
	KindIntentFailed      Kind = "payment_intent.payment_failed"
	KindChargeSucceeded   Kind = "charge.succeeded"
	KindChargeRefunded    Kind = "charge.refunded"
	KindDisputeCreated    Kind = "charge.dispute.created"
)

var (
	ErrInvalidEvent     = errors.New("reconciler: invalid event")
	ErrUnknownEventType = errors.New("reconciler: unknown event type")
)

// Event is the closed set of provider events the reconciler understands. Only
// the variants in this package implement it.
type Event interface {
	EventID() string
	OccurredAt() time.Time
	Kind() Kind
	Identifiers() models.StripeIdentifiers
	Validate() error
	sealed()
}

// Meta is embedded by every variant.
type Meta struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
}

func (m Meta) EventID() string       { return m.ID }
func (m Meta) OccurredAt() time.Time { return m.Created }
func (Meta) sealed()                 {}

func (m Meta) validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	return nil
}

type CheckoutCompleted struct {
	Meta
	SessionID          string            `json:"session_id"`
	PaymentIntentID    string            `json:"payment_intent_id,omitempty"`
	AmountTotal        int64             `json:"amount_total"`
	Currency           string            `json:"currency"`
	PaymentStatus      string            `json:"payment_status"`
	PaymentMethodTypes []string          `json:"payment_method_types,omitempty"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	CustomerName       string            `json:"customer_name,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`

	// First line item, when the lookup succeeded.
	LineItemDescription string `json:"line_item_description,omitempty"`
	LineItemQuantity    int64  `json:"line_item_quantity,omitempty"`
}

func (CheckoutCompleted) Kind() Kind { return KindCheckoutCompleted }

func (e CheckoutCompleted) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{CheckoutSessionID: e.SessionID, PaymentIntentID: e.PaymentIntentID}
}

func (e CheckoutCompleted) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: checkout session id is required", ErrInvalidEvent)
	}
	if e.AmountTotal < 0 {
		return fmt.Errorf("%w: negative amount_total", ErrInvalidEvent)
	}
	return nil
}

type IntentSucceeded struct {
	Meta
	IntentID       string `json:"intent_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	LatestChargeID string `json:"latest_charge_id,omitempty"`
}

func (IntentSucceeded) Kind() Kind { return KindIntentSucceeded }

func (e IntentSucceeded) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{PaymentIntentID: e.IntentID, ChargeID: e.LatestChargeID}
}

func (e IntentSucceeded) Validate() error { return validateIntent(e.Meta, e.IntentID, e.Amount) }

type IntentFailed struct {
	Meta
	IntentID       string `json:"intent_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

func (IntentFailed) Kind() Kind { return KindIntentFailed }

func (e IntentFailed) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{PaymentIntentID: e.IntentID}
}

func (e IntentFailed) Validate() error { return validateIntent(e.Meta, e.IntentID, e.Amount) }

func validateIntent(m Meta, intentID string, amount int64) error {
	if err := m.validate(); err != nil {
		return err
	}
	if intentID == "" {
		return fmt.Errorf("%w: payment intent id is required", ErrInvalidEvent)
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidEvent)
	}
	return nil
}

type ChargeSucceeded struct {
	Meta
	ChargeID       string `json:"charge_id"`
	IntentID       string `json:"intent_id,omitempty"`
	Amount         int64  `json:"amount"`
	AmountCaptured int64  `json:"amount_captured"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	ReceiptURL     string `json:"receipt_url,omitempty"`
	Disputed       bool   `json:"disputed"`
}

func (ChargeSucceeded) Kind() Kind { return KindChargeSucceeded }

func (e ChargeSucceeded) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{PaymentIntentID: e.IntentID, ChargeID: e.ChargeID}
}

func (e ChargeSucceeded) Validate() error {
	return validateCharge(e.Meta, e.ChargeID, e.Amount, e.AmountCaptured)
}

// ChargeRefunded carries the provider's cumulative refunded total for the charge.
type ChargeRefunded struct {
	Meta
	ChargeID       string `json:"charge_id"`
	IntentID       string `json:"intent_id,omitempty"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

func (ChargeRefunded) Kind() Kind { return KindChargeRefunded }

func (e ChargeRefunded) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{PaymentIntentID: e.IntentID, ChargeID: e.ChargeID}
}

func (e ChargeRefunded) Validate() error {
	return validateCharge(e.Meta, e.ChargeID, e.Amount, e.AmountRefunded)
}

func validateCharge(m Meta, chargeID string, amounts ...int64) error {
	if err := m.validate(); err != nil {
		return err
	}
	if chargeID == "" {
		return fmt.Errorf("%w: charge id is required", ErrInvalidEvent)
	}
	for _, a := range amounts {
		if a < 0 {
			return fmt.Errorf("%w: negative amount", ErrInvalidEvent)
		}
	}
	return nil
}

type DisputeCreated struct {
	Meta
	DisputeID string `json:"dispute_id"`
	ChargeID  string `json:"charge_id"`
	IntentID  string `json:"intent_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Amount    int64  `json:"amount"`
}

func (DisputeCreated) Kind() Kind { return KindDisputeCreated }

func (e DisputeCreated) Identifiers() models.StripeIdentifiers {
	return models.StripeIdentifiers{PaymentIntentID: e.IntentID, ChargeID: e.ChargeID}
}

func (e DisputeCreated) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.ChargeID == "" && e.IntentID == "" {
		return fmt.Errorf("%w: dispute %s has no charge or intent", ErrInvalidEvent, e.DisputeID)
	}
	return nil
}

// EncodeEvent serialises e for the ledger payload column.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent restores a variant stored by EncodeEvent.
func DecodeEvent(kind Kind, payload []byte) (Event, error) {
	switch kind {
	case KindCheckoutCompleted:
		var e CheckoutCompleted
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	case KindIntentSucceeded:
		var e IntentSucceeded
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	case KindIntentFailed:
		var e IntentFailed
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	case KindChargeSucceeded:
		var e ChargeSucceeded
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	case KindChargeRefunded:
		var e ChargeRefunded
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	case KindDisputeCreated:
		var e DisputeCreated
		err := json.Unmarshal(payload, &e)
		return e, wrapDecode(kind, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, kind)
}

func wrapDecode(kind Kind, err error) error {
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return nil
}
