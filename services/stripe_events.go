package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/mitantsoa1/gns-preprod/reconciler"
)

// StripeLookups are the provider calls the decoder makes to enrich events.
type StripeLookups interface {
	FirstLineItem(ctx context.Context, sessionID string) (description string, quantity int64, err error)
	DisputeReason(ctx context.Context, disputeID string) (string, error)
}

// StripeEventDecoder turns verified stripe.Events into reconciler variants.
// Lookup failures are logged and leave the enriched fields empty.
type StripeEventDecoder struct {
	lookups StripeLookups
	logger  *zap.Logger
}

func NewStripeEventDecoder(lookups StripeLookups, logger *zap.Logger) *StripeEventDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeEventDecoder{lookups: lookups, logger: logger}
}

func (d *StripeEventDecoder) Decode(ctx context.Context, evt stripe.Event) (reconciler.Event, error) {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data", reconciler.ErrInvalidEvent, evt.ID)
	}
	meta := reconciler.Meta{ID: evt.ID, Created: time.Unix(evt.Created, 0).UTC()}

	switch reconciler.Kind(evt.Type) {
	case reconciler.KindCheckoutCompleted:
		return d.checkoutCompleted(ctx, meta, evt.Data.Raw)
	case reconciler.KindIntentSucceeded, reconciler.KindIntentFailed:
		return d.paymentIntent(meta, reconciler.Kind(evt.Type), evt.Data.Raw)
	case reconciler.KindChargeSucceeded, reconciler.KindChargeRefunded:
		return d.charge(meta, reconciler.Kind(evt.Type), evt.Data.Raw)
	case reconciler.KindDisputeCreated:
		return d.dispute(ctx, meta, evt.Data.Raw)
	}
	return nil, fmt.Errorf("%w: %s", reconciler.ErrUnknownEventType, evt.Type)
}

func (d *StripeEventDecoder) checkoutCompleted(ctx context.Context, meta reconciler.Meta, raw json.RawMessage) (reconciler.Event, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", reconciler.ErrInvalidEvent, err)
	}
	cur, err := validCurrency(string(sess.Currency))
	if err != nil {
		return nil, err
	}

	out := reconciler.CheckoutCompleted{
		Meta:               meta,
		SessionID:          sess.ID,
		AmountTotal:        sess.AmountTotal,
		Currency:           cur,
		PaymentStatus:      string(sess.PaymentStatus),
		PaymentMethodTypes: sess.PaymentMethodTypes,
		CustomerEmail:      sess.CustomerEmail,
		Metadata:           sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	if cd := sess.CustomerDetails; cd != nil {
		if cd.Email != "" {
			out.CustomerEmail = cd.Email
		}
		out.CustomerName = cd.Name
	}

	if d.lookups != nil && sess.ID != "" {
		desc, qty, err := d.lookups.FirstLineItem(ctx, sess.ID)
		if err != nil {
			d.logger.Warn("line item lookup failed, using fallbacks",
				zap.String("event_id", meta.ID),
				zap.String("session_id", sess.ID),
				zap.Error(err))
		} else {
			out.LineItemDescription = desc
			out.LineItemQuantity = qty
		}
	}
	return out, nil
}

func (d *StripeEventDecoder) paymentIntent(meta reconciler.Meta, kind reconciler.Kind, raw json.RawMessage) (reconciler.Event, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: payment intent: %v", reconciler.ErrInvalidEvent, err)
	}
	cur, err := validCurrency(string(pi.Currency))
	if err != nil {
		return nil, err
	}

	method := ""
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		method = string(pi.PaymentMethod.Type)
	} else if len(pi.PaymentMethodTypes) > 0 {
		method = pi.PaymentMethodTypes[0]
	}

	if kind == reconciler.KindIntentFailed {
		out := reconciler.IntentFailed{
			Meta:          meta,
			IntentID:      pi.ID,
			Amount:        pi.Amount,
			Currency:      cur,
			PaymentMethod: method,
		}
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
		return out, nil
	}

	out := reconciler.IntentSucceeded{
		Meta:          meta,
		IntentID:      pi.ID,
		Amount:        pi.Amount,
		Currency:      cur,
		PaymentMethod: method,
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	return out, nil
}

func (d *StripeEventDecoder) charge(meta reconciler.Meta, kind reconciler.Kind, raw json.RawMessage) (reconciler.Event, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("%w: charge: %v", reconciler.ErrInvalidEvent, err)
	}
	cur, err := validCurrency(string(ch.Currency))
	if err != nil {
		return nil, err
	}
	intentID := ""
	if ch.PaymentIntent != nil {
		intentID = ch.PaymentIntent.ID
	}

	if kind == reconciler.KindChargeRefunded {
		return reconciler.ChargeRefunded{
			Meta:           meta,
			ChargeID:       ch.ID,
			IntentID:       intentID,
			Amount:         ch.Amount,
			AmountRefunded: ch.AmountRefunded,
			Currency:       cur,
		}, nil
	}

	out := reconciler.ChargeSucceeded{
		Meta:           meta,
		ChargeID:       ch.ID,
		IntentID:       intentID,
		Amount:         ch.Amount,
		AmountCaptured: ch.AmountCaptured,
		Currency:       cur,
		ReceiptURL:     ch.ReceiptURL,
		Disputed:       ch.Disputed,
	}
	if ch.PaymentMethodDetails != nil {
		out.PaymentMethod = string(ch.PaymentMethodDetails.Type)
	}
	return out, nil
}

func (d *StripeEventDecoder) dispute(ctx context.Context, meta reconciler.Meta, raw json.RawMessage) (reconciler.Event, error) {
	var dp stripe.Dispute
	if err := json.Unmarshal(raw, &dp); err != nil {
		return nil, fmt.Errorf("%w: dispute: %v", reconciler.ErrInvalidEvent, err)
	}
	out := reconciler.DisputeCreated{
		Meta:      meta,
		DisputeID: dp.ID,
		Reason:    string(dp.Reason),
		Amount:    dp.Amount,
	}
	if dp.Charge != nil {
		out.ChargeID = dp.Charge.ID
	}
	if dp.PaymentIntent != nil {
		out.IntentID = dp.PaymentIntent.ID
	}
	if out.Reason == "" && d.lookups != nil && dp.ID != "" {
		reason, err := d.lookups.DisputeReason(ctx, dp.ID)
		if err != nil {
			d.logger.Warn("dispute lookup failed",
				zap.String("event_id", meta.ID),
				zap.String("dispute_id", dp.ID),
				zap.Error(err))
		}
		out.Reason = reason
	}
	return out, nil
}

// validCurrency lower-cases code and rejects anything that is not ISO 4217.
// An empty code is allowed; the merge keeps whatever is already known.
func validCurrency(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", nil
	}
	if _, err := currency.ParseISO(code); err != nil {
		return "", fmt.Errorf("%w: currency %q: %v", reconciler.ErrInvalidEvent, code, err)
	}
	return code, nil
}

// EventApplier is satisfied by *reconciler.Reconciler.
type EventApplier interface {
	Apply(ctx context.Context, e reconciler.Event) (reconciler.Result, error)
}

// StripeEventHandler is the single entry point for verified Stripe events,
// shared by the webhook endpoint and the queue consumer.
type StripeEventHandler struct {
	decoder *StripeEventDecoder
	applier EventApplier
	logger  *zap.Logger
}

func NewStripeEventHandler(decoder *StripeEventDecoder, applier EventApplier, logger *zap.Logger) *StripeEventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeEventHandler{decoder: decoder, applier: applier, logger: logger}
}

// Handle decodes and applies evt. Unknown and malformed events are logged and
// acknowledged with OutcomeIgnored; only persistence failures return an error.
func (h *StripeEventHandler) Handle(ctx context.Context, evt stripe.Event) (reconciler.Result, error) {
	log := h.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", string(evt.Type)))

	e, err := h.decoder.Decode(ctx, evt)
	if err == nil {
		var res reconciler.Result
		res, err = h.applier.Apply(ctx, e)
		if err == nil {
			return res, nil
		}
	}

	switch {
	case errors.Is(err, reconciler.ErrUnknownEventType):
		log.Info("unhandled webhook event type")
	case errors.Is(err, reconciler.ErrInvalidEvent):
		log.Warn("malformed webhook event ignored", zap.Error(err))
	default:
		return reconciler.Result{}, err
	}
	return reconciler.Result{Outcome: reconciler.OutcomeIgnored}, nil
}
