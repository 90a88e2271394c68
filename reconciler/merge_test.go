package reconciler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/reconciler"
)

func ptr[T any](v T) *T { return &v }

func TestMerge_IdentifiersAreFillOnly(t *testing.T) {
	existing := &models.Payment{
		StripeCheckoutSessionID: ptr("cs_1"),
		Status:                  models.PaymentStatusPending,
	}
	out := reconciler.Merge(existing, reconciler.Partial{
		IDs: models.StripeIdentifiers{CheckoutSessionID: "cs_other", PaymentIntentID: "pi_1"},
	})

	assert.Equal(t, "cs_1", *out.StripeCheckoutSessionID)
	assert.Equal(t, "pi_1", *out.StripePaymentIntentID)
	assert.Nil(t, out.StripeChargeID)
	assert.Nil(t, existing.StripePaymentIntentID, "existing must not be mutated")
}

func TestMerge_TimestampsAreSetOnce(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	out := reconciler.Merge(&models.Payment{PaidAt: &first}, reconciler.Partial{PaidAt: &later, CapturedAt: &later})
	assert.True(t, out.PaidAt.Equal(first))
	require.NotNil(t, out.CapturedAt)
	assert.True(t, out.CapturedAt.Equal(later))
}

func TestMerge_DescriptiveFieldsIgnoreEmpty(t *testing.T) {
	existing := &models.Payment{
		CustomerEmail: "client@example.com",
		ProductName:   "Isolation thermique & phonique",
		Quantity:      2,
		Currency:      "eur",
		Amount:        5000,
		Metadata:      datatypes.JSONMap{"productId": "insulation"},
	}
	out := reconciler.Merge(existing, reconciler.Partial{
		CustomerName: "Rabe Aina",
		Currency:     "usd",
		Amount:       9999,
		Metadata:     map[string]string{"userId": "u-9"},
	})

	assert.Equal(t, "client@example.com", out.CustomerEmail)
	assert.Equal(t, "Rabe Aina", out.CustomerName)
	assert.Equal(t, "Isolation thermique & phonique", out.ProductName)
	assert.Equal(t, int64(2), out.Quantity)
	assert.Equal(t, "eur", out.Currency, "currency is set once")
	assert.Equal(t, int64(5000), out.Amount, "amount is set once")
	assert.Equal(t, datatypes.JSONMap{"productId": "insulation", "userId": "u-9"}, out.Metadata)
	assert.Equal(t, datatypes.JSONMap{"productId": "insulation"}, existing.Metadata)
}

func TestMerge_RefundTotalsAccumulateByDelta(t *testing.T) {
	p := reconciler.Merge(&models.Payment{Amount: 10000, Status: models.PaymentStatusSucceeded},
		reconciler.Partial{HasRefund: true, RefundedTotal: 4000})
	assert.Equal(t, int64(4000), p.AmountRefunded)

	p = reconciler.Merge(&p, reconciler.Partial{HasRefund: true, RefundedTotal: 4000})
	assert.Equal(t, int64(4000), p.AmountRefunded, "same cumulative total adds nothing")

	p = reconciler.Merge(&p, reconciler.Partial{HasRefund: true, RefundedTotal: 2000})
	assert.Equal(t, int64(4000), p.AmountRefunded, "stale total never lowers the sum")

	p = reconciler.Merge(&p, reconciler.Partial{HasRefund: true, RefundedTotal: 10000})
	assert.Equal(t, int64(10000), p.AmountRefunded)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
}

func TestMerge_DisputedIsSticky(t *testing.T) {
	p := reconciler.Merge(&models.Payment{Disputed: true, Status: models.PaymentStatusDisputed},
		reconciler.Partial{Candidate: models.PaymentStatusSucceeded})
	assert.True(t, p.Disputed)
	assert.Equal(t, models.PaymentStatusDisputed, p.Status)
}

func TestMerge_SamePartialTwiceIsStable(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := reconciler.Partial{
		IDs:           models.StripeIdentifiers{CheckoutSessionID: "cs_1"},
		Amount:        25000,
		Currency:      "eur",
		Candidate:     models.PaymentStatusSucceeded,
		PaidAt:        &at,
		ProductName:   "Structure béton armé",
		Quantity:      1,
		Metadata:      map[string]string{"productId": "structure"},
		CustomerEmail: "client@example.com",
	}
	once := reconciler.Merge(nil, in)
	twice := reconciler.Merge(&once, in)
	assert.Equal(t, once, twice)
}
