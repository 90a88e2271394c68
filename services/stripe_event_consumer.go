package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/reconciler"
)

// Poller is satisfied by *awspkg.SQSConsumer.
type Poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

// StripeEventConsumer feeds Stripe events delivered through SQS (Stripe event
// destination -> EventBridge -> SQS) into the same handler as the webhook.
// Messages reach the queue already authenticated by AWS, so no signature is
// checked here.
type StripeEventConsumer struct {
	poller  Poller
	handler *StripeEventHandler
	metrics reconciler.Metrics
	logger  *zap.Logger
}

// NewStripeEventConsumer creates a consumer. metrics may be nil.
func NewStripeEventConsumer(poller Poller, handler *StripeEventHandler, metrics reconciler.Metrics, logger *zap.Logger) *StripeEventConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeEventConsumer{poller: poller, handler: handler, metrics: metrics, logger: logger}
}

func (c *StripeEventConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting stripe event consumer (SQS)")
	return c.poller.StartPolling(ctx, c.HandleMessage)
}

// HandleMessage processes one queue message. A nil return deletes it.
// Bodies that are not events are dropped; persistence failures are retried
// through redelivery.
func (c *StripeEventConsumer) HandleMessage(ctx context.Context, body string) error {
	evt, err := unwrapEvent([]byte(body))
	if err != nil {
		c.logger.Warn("dropping unreadable stripe event message", zap.Error(err))
		return nil
	}

	res, err := c.handler.Handle(ctx, evt)
	if err != nil {
		return fmt.Errorf("reconcile event %s: %w", evt.ID, err)
	}
	if c.metrics != nil {
		_ = c.metrics.RecordCount(ctx, awspkg.MetricSQSMessages, map[string]string{
			"Service": "gns-payments",
			"Outcome": string(res.Outcome),
		})
	}
	c.logger.Info("stripe event processed from queue",
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.String("outcome", string(res.Outcome)))
	return nil
}

type eventBridgeEnvelope struct {
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// unwrapEvent accepts either a raw Stripe event or an EventBridge envelope
// carrying it in "detail".
func unwrapEvent(body []byte) (stripe.Event, error) {
	var env eventBridgeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return stripe.Event{}, fmt.Errorf("decode message: %w", err)
	}
	if len(env.Detail) > 0 && !bytes.Equal(env.Detail, []byte("null")) {
		body = env.Detail
	}

	var evt stripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return stripe.Event{}, fmt.Errorf("decode stripe event: %w", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return stripe.Event{}, fmt.Errorf("message is not a stripe event")
	}
	return evt, nil
}
