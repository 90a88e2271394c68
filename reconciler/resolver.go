package reconciler

import (
	"context"

	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// Resolution is the result of looking up the payment an event belongs to.
// Record is nil when nothing matched.
type Resolution struct {
	Record *models.Payment
	// Others holds further matches. Under the unique indexes this only happens
	// when two records each own one of the event's identifiers.
	Others []models.Payment
}

func (r Resolution) Found() bool { return r.Record != nil }

// Resolver finds the payment correlated to a set of identifiers.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Resolve picks the most recently updated match. Multiple matches are logged
// with every identifier involved.
func (r *Resolver) Resolve(ctx context.Context, payments repository.PaymentRepository, ids models.StripeIdentifiers) (Resolution, error) {
	if ids.Empty() {
		return Resolution{}, nil
	}
	matches, err := payments.FindByIdentifiers(ctx, ids)
	if err != nil {
		return Resolution{}, err
	}
	if len(matches) == 0 {
		return Resolution{}, nil
	}

	best := 0
	for i := 1; i < len(matches); i++ {
		if matches[i].UpdatedAt.After(matches[best].UpdatedAt) {
			best = i
		}
	}
	res := Resolution{Record: &matches[best]}
	for i := range matches {
		if i != best {
			res.Others = append(res.Others, matches[i])
		}
	}

	if len(res.Others) > 0 {
		fields := []zap.Field{
			zap.String("checkout_session_id", ids.CheckoutSessionID),
			zap.String("payment_intent_id", ids.PaymentIntentID),
			zap.String("charge_id", ids.ChargeID),
			zap.String("chosen_payment_id", res.Record.ID.String()),
		}
		for _, o := range res.Others {
			fields = append(fields, zap.String("other_payment_id", o.ID.String()))
		}
		r.logger.Warn("identifiers match more than one payment", fields...)
	}
	return res, nil
}

// claimable drops from ids every identifier already owned by another record,
// so filling the chosen record cannot collide on a unique index.
func (r Resolution) claimable(ids models.StripeIdentifiers) models.StripeIdentifiers {
	for _, o := range r.Others {
		owned := o.Identifiers()
		if owned.CheckoutSessionID == ids.CheckoutSessionID {
			ids.CheckoutSessionID = ""
		}
		if owned.PaymentIntentID == ids.PaymentIntentID {
			ids.PaymentIntentID = ""
		}
		if owned.ChargeID == ids.ChargeID {
			ids.ChargeID = ""
		}
	}
	return ids
}
