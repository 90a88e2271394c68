package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// ErrSignatureInvalid is returned for a missing, malformed, stale or forged
// Stripe-Signature header.
var ErrSignatureInvalid = errors.New("stripe: invalid webhook signature")

const maxWebhookBody = 1 << 20

type StripeService struct {
	SecretKey  string
	WebhookKey string
	Tolerance  time.Duration

	api *client.API
}

func NewStripeService(secretKey, webhookKey string) *StripeService {
	return &StripeService{
		SecretKey:  secretKey,
		WebhookKey: webhookKey,
		Tolerance:  webhook.DefaultTolerance,
		api:        client.New(secretKey, nil),
	}
}

// ParseWebhook reads the request body and verifies it against the
// Stripe-Signature header. The body is restored so later handlers can read it.
func (s *StripeService) ParseWebhook(r *http.Request) (stripe.Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return stripe.Event{}, fmt.Errorf("read webhook body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(payload))
	return s.VerifyPayload(payload, r.Header.Get("Stripe-Signature"))
}

// VerifyPayload checks sigHeader for payload. API version mismatches are
// tolerated: only the fields the decoder reads matter.
func (s *StripeService) VerifyPayload(payload []byte, sigHeader string) (stripe.Event, error) {
	if sigHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrSignatureInvalid)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.WebhookKey, webhook.ConstructEventOptions{
		Tolerance:                s.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return evt, nil
}

// FirstLineItem returns the description and quantity of the first line item of
// a checkout session.
func (s *StripeService) FirstLineItem(ctx context.Context, sessionID string) (string, int64, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := s.api.CheckoutSessions.ListLineItems(params)
	if iter.Next() {
		item := iter.LineItem()
		return item.Description, item.Quantity, nil
	}
	if err := iter.Err(); err != nil {
		return "", 0, fmt.Errorf("list line items of %s: %w", sessionID, err)
	}
	return "", 0, nil
}

// DisputeReason fetches a dispute and returns its reason code.
func (s *StripeService) DisputeReason(ctx context.Context, disputeID string) (string, error) {
	params := &stripe.DisputeParams{}
	params.Context = ctx
	d, err := s.api.Disputes.Get(disputeID, params)
	if err != nil {
		return "", fmt.Errorf("get dispute %s: %w", disputeID, err)
	}
	return string(d.Reason), nil
}
