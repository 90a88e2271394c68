package reconciler

import (
	"time"

	"gorm.io/datatypes"

	"github.com/mitantsoa1/gns-preprod/models"
)

// Merge folds in into existing and returns the new record. existing is never
// modified; a nil existing starts from an empty record. The rules are applied
// in order:
//
//  1. identifiers are filled, never replaced
//  2. amountRefunded grows by the positive difference to the reported total
//  3. transition timestamps are set once
//  4. disputed is sticky
//  5. descriptive fields take incoming values only when non-empty
//  6. status is derived by NextStatus
func Merge(existing *models.Payment, in Partial) models.Payment {
	var out models.Payment
	if existing != nil {
		out = *existing
		out.Metadata = cloneJSONMap(existing.Metadata)
	}

	fillID(&out.StripeCheckoutSessionID, in.IDs.CheckoutSessionID)
	fillID(&out.StripePaymentIntentID, in.IDs.PaymentIntentID)
	fillID(&out.StripeChargeID, in.IDs.ChargeID)

	if in.HasRefund && in.RefundedTotal > out.AmountRefunded {
		out.AmountRefunded += in.RefundedTotal - out.AmountRefunded
	}

	setOnce(&out.PaidAt, in.PaidAt)
	setOnce(&out.CapturedAt, in.CapturedAt)
	setOnce(&out.FailedAt, in.FailedAt)
	setOnce(&out.DisputedAt, in.DisputedAt)
	if out.AmountRefunded > 0 {
		setOnce(&out.RefundedAt, in.RefundedAt)
	}

	out.Disputed = out.Disputed || in.Disputed

	if out.Amount == 0 && in.Amount > 0 {
		out.Amount = in.Amount
	}
	if in.AmountCaptured > out.AmountCaptured {
		out.AmountCaptured = in.AmountCaptured
	}
	if out.Currency == "" {
		out.Currency = in.Currency
	}
	overwrite(&out.PaymentMethod, in.PaymentMethod)
	overwrite(&out.ReceiptURL, in.ReceiptURL)
	overwrite(&out.CustomerEmail, in.CustomerEmail)
	overwrite(&out.CustomerName, in.CustomerName)
	overwrite(&out.ProductID, in.ProductID)
	overwrite(&out.ProductName, in.ProductName)
	overwrite(&out.UserID, in.UserID)
	overwrite(&out.FailureReason, in.FailureReason)
	overwrite(&out.DisputeReason, in.DisputeReason)
	if in.Quantity > 0 {
		out.Quantity = in.Quantity
	}
	if len(in.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = datatypes.JSONMap{}
		}
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}

	var current models.PaymentStatus
	if existing != nil {
		current = existing.Status
	}
	out.Status = NextStatus(current, in.Candidate, &out)
	return out
}

func fillID(dst **string, v string) {
	if v == "" || (*dst != nil && **dst != "") {
		return
	}
	s := v
	*dst = &s
}

func setOnce(dst **time.Time, v *time.Time) {
	if *dst != nil || v == nil {
		return
	}
	t := *v
	*dst = &t
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func cloneJSONMap(in datatypes.JSONMap) datatypes.JSONMap {
	if in == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
