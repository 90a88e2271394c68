package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	apperrors "github.com/mitantsoa1/gns-preprod/common/errors"
	"github.com/mitantsoa1/gns-preprod/common/logger"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/reconciler"
	"github.com/mitantsoa1/gns-preprod/services"
)

// WebhookParser is satisfied by *services.StripeService.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

// EventHandler is satisfied by *services.StripeEventHandler.
type EventHandler interface {
	Handle(ctx context.Context, evt stripe.Event) (reconciler.Result, error)
}

type WebhookController struct {
	Stripe  WebhookParser
	Handler EventHandler
	Metrics reconciler.Metrics
	Logger  *zap.Logger
}

// StripeWebhook receives Stripe webhook events and reconciles them. Stripe
// retries anything but a 2xx, so only verification and persistence failures
// are reported as errors.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	base := wc.Logger
	if base == nil {
		base = zap.NewNop()
	}
	log := logger.WithRequest(ctx, base)

	event, err := wc.Stripe.ParseWebhook(c.Request)
	if err != nil {
		wc.count(ctx, awspkg.MetricWebhookRejected, "")
		if errors.Is(err, services.ErrSignatureInvalid) {
			log.Warn("stripe webhook signature verification failed", zap.Error(err))
		} else {
			log.Warn("stripe webhook could not be read", zap.Error(err))
		}
		_ = c.Error(apperrors.Wrap(apperrors.ErrInvalidWebhook, err))
		return
	}
	wc.count(ctx, awspkg.MetricWebhookReceived, string(event.Type))

	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	res, err := wc.Handler.Handle(ctx, event)
	if err != nil {
		log.Error("stripe webhook reconciliation failed", zap.Error(err))
		_ = c.Error(apperrors.Wrap(apperrors.ErrReconcileFailed, err))
		return
	}

	fields := []zap.Field{zap.String("outcome", string(res.Outcome))}
	if res.PaymentID != uuid.Nil {
		fields = append(fields, zap.String("payment_id", res.PaymentID.String()), zap.String("status", string(res.Status)))
	}
	log.Info("stripe webhook processed", fields...)

	c.JSON(http.StatusOK, gin.H{"status": "received", "outcome": res.Outcome})
}

func (wc *WebhookController) count(ctx context.Context, name, eventType string) {
	if wc.Metrics == nil {
		return
	}
	dims := map[string]string{"Service": "gns-payments"}
	if eventType != "" {
		dims["EventType"] = eventType
	}
	_ = wc.Metrics.RecordCount(ctx, name, dims)
}
