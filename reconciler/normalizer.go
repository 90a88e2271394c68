package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
)

// UnknownProduct is stored when no product name can be resolved.
const UnknownProduct = "Unknown Product"

const defaultFailureReason = "Payment failed"

// Partial is the slice of a payment record a single event can supply. Zero
// values mean "not supplied".
type Partial struct {
	IDs models.StripeIdentifiers

	Amount         int64
	AmountCaptured int64
	// RefundedTotal is the provider's cumulative refunded amount; only
	// meaningful when HasRefund is set.
	RefundedTotal int64
	HasRefund     bool
	Currency      string

	// Candidate is the status this event argues for, combined with the current
	// status by precedence.
	Candidate models.PaymentStatus

	PaymentMethod string
	ReceiptURL    string
	CustomerEmail string
	CustomerName  string
	ProductID     string
	ProductName   string
	Quantity      int64
	UserID        string

	PaidAt     *time.Time
	CapturedAt *time.Time
	RefundedAt *time.Time
	FailedAt   *time.Time
	DisputedAt *time.Time

	Disputed      bool
	FailureReason string
	DisputeReason string

	Metadata map[string]string
}

// ProductCatalog resolves local product names by id.
type ProductCatalog interface {
	ProductName(ctx context.Context, id string) (string, error)
}

// Normalizer maps events to partial records. Apart from the read-only catalogue
// lookup for checkout sessions it is a pure function of the event.
type Normalizer struct {
	catalog ProductCatalog
	unpaid  models.PaymentStatus
	logger  *zap.Logger
}

// NewNormalizer builds a normalizer. unpaidStatus is the status given to a
// completed checkout that is not paid yet (pending or failed).
func NewNormalizer(catalog ProductCatalog, unpaidStatus models.PaymentStatus, logger *zap.Logger) *Normalizer {
	if unpaidStatus != models.PaymentStatusFailed {
		unpaidStatus = models.PaymentStatusPending
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{catalog: catalog, unpaid: unpaidStatus, logger: logger}
}

func (n *Normalizer) Normalize(ctx context.Context, e Event) Partial {
	at := e.OccurredAt().UTC()
	p := Partial{IDs: e.Identifiers()}

	switch ev := e.(type) {
	case CheckoutCompleted:
		p.Amount = ev.AmountTotal
		p.Currency = normalizeCurrency(ev.Currency)
		if ev.PaymentStatus == "paid" {
			p.Candidate = models.PaymentStatusSucceeded
			p.PaidAt = &at
		} else {
			p.Candidate = n.unpaid
			if n.unpaid == models.PaymentStatusFailed {
				p.FailedAt = &at
			}
		}
		if len(ev.PaymentMethodTypes) > 0 {
			p.PaymentMethod = ev.PaymentMethodTypes[0]
		}
		p.CustomerEmail = ev.CustomerEmail
		p.CustomerName = ev.CustomerName
		p.ProductID = ev.Metadata["productId"]
		p.UserID = ev.Metadata["userId"]
		p.ProductName = n.productName(ctx, ev)
		p.Quantity = checkoutQuantity(ev)
		p.Metadata = copyMetadata(ev.Metadata)

	case IntentSucceeded:
		p.Amount = ev.Amount
		p.Currency = normalizeCurrency(ev.Currency)
		p.PaymentMethod = ev.PaymentMethod
		p.Candidate = models.PaymentStatusSucceeded
		p.PaidAt = &at

	case IntentFailed:
		p.Amount = ev.Amount
		p.Currency = normalizeCurrency(ev.Currency)
		p.PaymentMethod = ev.PaymentMethod
		p.Candidate = models.PaymentStatusFailed
		p.FailedAt = &at
		p.FailureReason = ev.FailureMessage
		if p.FailureReason == "" {
			p.FailureReason = defaultFailureReason
		}

	case ChargeSucceeded:
		p.Amount = ev.Amount
		p.AmountCaptured = ev.AmountCaptured
		p.Currency = normalizeCurrency(ev.Currency)
		p.PaymentMethod = ev.PaymentMethod
		p.ReceiptURL = ev.ReceiptURL
		p.Candidate = models.PaymentStatusSucceeded
		if ev.AmountCaptured > 0 {
			p.CapturedAt = &at
		}
		if ev.Disputed {
			p.Disputed = true
			p.DisputedAt = &at
			p.Candidate = models.PaymentStatusDisputed
		}

	case ChargeRefunded:
		p.Amount = ev.Amount
		p.Currency = normalizeCurrency(ev.Currency)
		p.HasRefund = true
		p.RefundedTotal = ev.AmountRefunded
		if ev.AmountRefunded > 0 {
			p.RefundedAt = &at
		}

	case DisputeCreated:
		p.Disputed = true
		p.DisputedAt = &at
		p.DisputeReason = ev.Reason
		p.Candidate = models.PaymentStatusDisputed
	}
	return p
}

// productName prefers the local catalogue, then the first line item, then the
// session metadata.
func (n *Normalizer) productName(ctx context.Context, ev CheckoutCompleted) string {
	if id := ev.Metadata["productId"]; id != "" && n.catalog != nil {
		name, err := n.catalog.ProductName(ctx, id)
		if err == nil && name != "" {
			return name
		}
		if err != nil {
			n.logger.Warn("product lookup failed, falling back",
				zap.String("event_id", ev.ID),
				zap.String("product_id", id),
				zap.Error(err))
		}
	}
	if ev.LineItemDescription != "" {
		return ev.LineItemDescription
	}
	if name := ev.Metadata["productName"]; name != "" {
		return name
	}
	return UnknownProduct
}

func checkoutQuantity(ev CheckoutCompleted) int64 {
	if ev.LineItemQuantity > 0 {
		return ev.LineItemQuantity
	}
	if q, err := cast.ToInt64E(ev.Metadata["quantity"]); err == nil && q > 0 {
		return q
	}
	return 1
}

func normalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
