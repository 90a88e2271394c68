package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/reconciler"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

type fakeCatalog map[string]string

func (f fakeCatalog) ProductName(_ context.Context, id string) (string, error) {
	if name, ok := f[id]; ok {
		return name, nil
	}
	return "", errors.New("product not found")
}

type recordingPublisher struct{ events []models.PaymentEvent }

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, e models.PaymentEvent) error {
	p.events = append(p.events, e)
	return nil
}

type recordingCache struct{ users []string }

func (c *recordingCache) InvalidateUser(_ context.Context, userID string) error {
	c.users = append(c.users, userID)
	return nil
}

func newReconciler(store *memStore, unpaid models.PaymentStatus, opts ...reconciler.Option) *reconciler.Reconciler {
	n := reconciler.NewNormalizer(fakeCatalog{"structure": "Structure béton armé"}, unpaid, nil)
	opts = append([]reconciler.Option{reconciler.WithRetryBackoff(0)}, opts...)
	return reconciler.New(store, n, nil, opts...)
}

func checkout(id, session, intent, paymentStatus string, amount int64) reconciler.CheckoutCompleted {
	return reconciler.CheckoutCompleted{
		Meta:               reconciler.Meta{ID: id, Created: at(0)},
		SessionID:          session,
		PaymentIntentID:    intent,
		AmountTotal:        amount,
		Currency:           "eur",
		PaymentStatus:      paymentStatus,
		PaymentMethodTypes: []string{"card"},
		CustomerEmail:      "client@example.com",
		CustomerName:       "Rakoto Jean",
		Metadata:           map[string]string{"productId": "structure", "userId": "user-1"},
	}
}

func intentSucceeded(id, intent string, amount int64) reconciler.IntentSucceeded {
	return reconciler.IntentSucceeded{
		Meta:          reconciler.Meta{ID: id, Created: at(1)},
		IntentID:      intent,
		Amount:        amount,
		Currency:      "eur",
		PaymentMethod: "card",
	}
}

func intentFailed(id, intent string, amount int64, msg string) reconciler.IntentFailed {
	return reconciler.IntentFailed{
		Meta:           reconciler.Meta{ID: id, Created: at(1)},
		IntentID:       intent,
		Amount:         amount,
		Currency:       "eur",
		FailureMessage: msg,
	}
}

func chargeSucceeded(id, charge, intent string, amount int64) reconciler.ChargeSucceeded {
	return reconciler.ChargeSucceeded{
		Meta:           reconciler.Meta{ID: id, Created: at(2)},
		ChargeID:       charge,
		IntentID:       intent,
		Amount:         amount,
		AmountCaptured: amount,
		Currency:       "eur",
		PaymentMethod:  "card",
		ReceiptURL:     "https://pay.stripe.com/receipts/" + charge,
	}
}

func chargeRefunded(id, charge, intent string, amount, refunded int64, minute int) reconciler.ChargeRefunded {
	return reconciler.ChargeRefunded{
		Meta:           reconciler.Meta{ID: id, Created: at(minute)},
		ChargeID:       charge,
		IntentID:       intent,
		Amount:         amount,
		AmountRefunded: refunded,
		Currency:       "eur",
	}
}

func onlyPayment(t *testing.T, store *memStore) models.Payment {
	t.Helper()
	payments := store.paymentList()
	require.Len(t, payments, 1)
	return payments[0]
}

func TestApply_PaidCheckoutThenFullRefund(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	res, err := r.Apply(ctx, checkout("evt_cs", "cs_250", "pi_250", "paid", 25000))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeCreated, res.Outcome)

	p := onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, int64(25000), p.Amount)
	assert.Equal(t, "eur", p.Currency)
	assert.Equal(t, "Structure béton armé", p.ProductName)
	assert.Equal(t, int64(1), p.Quantity)
	assert.Equal(t, "user-1", p.UserID)
	require.NotNil(t, p.PaidAt)
	assert.True(t, p.PaidAt.Equal(at(0)))

	res, err = r.Apply(ctx, chargeRefunded("evt_rf", "ch_250", "pi_250", 25000, 25000, 5))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeUpdated, res.Outcome)
	assert.Equal(t, models.PaymentStatusSucceeded, res.PreviousStatus)

	p = onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, int64(25000), p.AmountRefunded)
	assert.Equal(t, "ch_250", *p.StripeChargeID)
	require.NotNil(t, p.RefundedAt)
}

func TestApply_UnpaidCheckoutThenIntentFailed(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "unpaid", 12000))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, onlyPayment(t, store).Status)

	_, err = r.Apply(ctx, intentFailed("evt_pf", "pi_1", 12000, "Your card was declined."))
	require.NoError(t, err)

	p := onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, "Your card was declined.", p.FailureReason)
	assert.NotNil(t, p.FailedAt)
}

func TestApply_UnpaidPolicyFailed(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusFailed)

	_, err := r.Apply(context.Background(), checkout("evt_cs", "cs_1", "pi_1", "unpaid", 12000))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, onlyPayment(t, store).Status)
}

func TestApply_FailedReopensOnSuccess(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusFailed)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "unpaid", 12000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, intentSucceeded("evt_pi", "pi_1", 12000))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSucceeded, onlyPayment(t, store).Status)
}

func TestApply_LateFailureKeepsSuccess(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 12000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, intentFailed("evt_pf", "pi_1", 12000, ""))
	require.NoError(t, err)

	p := onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, "Payment failed", p.FailureReason)
	assert.NotNil(t, p.FailedAt)
	assert.Equal(t, models.WebhookEventApplied, store.view().events["evt_pf"].Status)
}

func TestApply_CheckoutIsIdempotent(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()
	evt := checkout("evt_cs", "cs_1", "pi_1", "paid", 10000)

	_, err := r.Apply(ctx, evt)
	require.NoError(t, err)
	once := onlyPayment(t, store)

	res, err := r.Apply(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, once, onlyPayment(t, store))
}

func TestApply_SameFactsUnderNewEventIDLeaveRecordUntouched(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs_1", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)
	once := onlyPayment(t, store)

	res, err := r.Apply(ctx, checkout("evt_cs_2", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, once, onlyPayment(t, store))
}

func permutations(events []reconciler.Event) [][]reconciler.Event {
	if len(events) <= 1 {
		return [][]reconciler.Event{events}
	}
	var out [][]reconciler.Event
	for i := range events {
		rest := make([]reconciler.Event, 0, len(events)-1)
		rest = append(rest, events[:i]...)
		rest = append(rest, events[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]reconciler.Event{events[i]}, p...))
		}
	}
	return out
}

// stripVolatile strips the fields that legitimately differ between runs.
func stripVolatile(p models.Payment) models.Payment {
	p.ID = uuid.Nil
	p.Version = 0
	p.CreatedAt = time.Time{}
	p.UpdatedAt = time.Time{}
	return p
}

func TestApply_OrderIndependence(t *testing.T) {
	events := []reconciler.Event{
		checkout("evt_cs", "cs_1", "pi_1", "paid", 10000),
		intentSucceeded("evt_pi", "pi_1", 10000),
		chargeSucceeded("evt_ch", "ch_1", "pi_1", 10000),
		chargeRefunded("evt_rf", "ch_1", "pi_1", 10000, 4000, 3),
	}

	var reference *models.Payment
	for i, order := range permutations(events) {
		store := newMemStore()
		r := newReconciler(store, models.PaymentStatusPending)
		for _, e := range order {
			_, err := r.Apply(context.Background(), e)
			require.NoError(t, err)
		}

		p := stripVolatile(onlyPayment(t, store))
		assert.Equal(t, models.PaymentStatusPartiallyRefunded, p.Status, "permutation %d", i)
		assert.Equal(t, int64(4000), p.AmountRefunded, "permutation %d", i)
		if reference == nil {
			reference = &p
			continue
		}
		assert.Equal(t, *reference, p, "permutation %d", i)
	}
}

func TestApply_IntentWithoutCheckoutIsDeferred(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)

	res, err := r.Apply(context.Background(), intentSucceeded("evt_pi", "pi_orphan", 5000))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeDeferred, res.Outcome)
	assert.Empty(t, store.paymentList())

	row, ok := store.view().events["evt_pi"]
	require.True(t, ok)
	assert.Equal(t, models.WebhookEventDeferred, row.Status)
	assert.Nil(t, row.PaymentID)
}

func TestApply_DeferredEventsReplayOnCheckout(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, intentSucceeded("evt_pi", "pi_1", 9000))
	require.NoError(t, err)
	// Only carries the charge id, so it is found through the replayed charge.
	refund := chargeRefunded("evt_rf", "ch_1", "", 9000, 9000, 4)
	_, err = r.Apply(ctx, refund)
	require.NoError(t, err)
	_, err = r.Apply(ctx, chargeSucceeded("evt_ch", "ch_1", "pi_1", 9000))
	require.NoError(t, err)
	assert.Empty(t, store.paymentList())

	res, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "unpaid", 9000))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, res.Replayed)

	p := onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, int64(9000), p.AmountRefunded)
	assert.Equal(t, "ch_1", *p.StripeChargeID)

	for _, id := range []string{"evt_pi", "evt_rf", "evt_ch", "evt_cs"} {
		row := store.view().events[id]
		assert.Equal(t, models.WebhookEventApplied, row.Status, id)
		require.NotNil(t, row.PaymentID, id)
		assert.Equal(t, p.ID, *row.PaymentID, id)
	}
}

func TestApply_RedeliveredRefundIsNotDoubleCounted(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)

	refund := chargeRefunded("evt_rf_1", "ch_1", "pi_1", 10000, 4000, 3)
	for i := 0; i < 3; i++ {
		_, err = r.Apply(ctx, refund)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4000), onlyPayment(t, store).AmountRefunded)

	_, err = r.Apply(ctx, chargeRefunded("evt_rf_2", "ch_1", "pi_1", 10000, 6000, 4))
	require.NoError(t, err)
	p := onlyPayment(t, store)
	assert.Equal(t, int64(6000), p.AmountRefunded)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, p.Status)
}

func TestApply_RefundTotalNeverDecreases(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)

	totals := []int64{3000, 7000, 5000, 7000, 1000}
	var last int64
	for i, total := range totals {
		_, err := r.Apply(ctx, chargeRefunded(fmt.Sprintf("evt_rf_%d", i), "ch_1", "pi_1", 10000, total, 3+i))
		require.NoError(t, err)
		got := onlyPayment(t, store).AmountRefunded
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
	assert.Equal(t, int64(7000), last)
}

func TestApply_DisputeThenPartialRefund(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, chargeSucceeded("evt_ch", "ch_1", "pi_1", 10000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, reconciler.DisputeCreated{
		Meta:      reconciler.Meta{ID: "evt_dp", Created: at(6)},
		DisputeID: "dp_1",
		ChargeID:  "ch_1",
		Reason:    "fraudulent",
		Amount:    10000,
	})
	require.NoError(t, err)

	p := onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusDisputed, p.Status)
	assert.True(t, p.Disputed)
	assert.Equal(t, "fraudulent", p.DisputeReason)

	_, err = r.Apply(ctx, chargeRefunded("evt_rf", "ch_1", "pi_1", 10000, 2500, 7))
	require.NoError(t, err)
	p = onlyPayment(t, store)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, p.Status)
	assert.True(t, p.Disputed)
}

func TestApply_ConflictIsRetried(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)

	store.shared.conflicts = 2
	res, err := r.Apply(ctx, chargeRefunded("evt_rf", "ch_1", "pi_1", 10000, 10000, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, models.PaymentStatusRefunded, onlyPayment(t, store).Status)
	assert.Equal(t, models.WebhookEventApplied, store.view().events["evt_rf"].Status)
}

func TestApply_ConflictRetriesExhausted(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending, reconciler.WithMaxAttempts(3))
	ctx := context.Background()

	store.shared.conflicts = 10
	res, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.Error(t, err)
	assert.ErrorIs(t, err, reconciler.ErrRetriesExhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, store.paymentList())

	// The rolled back claim must not turn the provider's retry into a duplicate.
	_, ok := store.view().events["evt_cs"]
	assert.False(t, ok)
}

func TestApply_InvalidEvent(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)

	res, err := r.Apply(context.Background(), checkout("evt_cs", "", "pi_1", "paid", 100))
	assert.ErrorIs(t, err, reconciler.ErrInvalidEvent)
	assert.Equal(t, reconciler.OutcomeIgnored, res.Outcome)
}

func TestApply_PublishesStatusChangesAndInvalidatesCache(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	cache := &recordingCache{}
	r := newReconciler(store, models.PaymentStatusPending, reconciler.WithPublisher(pub), reconciler.WithCache(cache))
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs", "cs_1", "pi_1", "paid", 10000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, chargeSucceeded("evt_ch", "ch_1", "pi_1", 10000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, chargeRefunded("evt_rf", "ch_1", "pi_1", 10000, 10000, 3))
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, "payment_succeeded", pub.events[0].Type)
	assert.Equal(t, "payment_refunded", pub.events[1].Type)
	assert.Equal(t, models.PaymentStatusSucceeded, pub.events[1].PreviousStatus)
	assert.Equal(t, int64(10000), pub.events[1].AmountRefunded)
	assert.Equal(t, []string{"user-1", "user-1", "user-1"}, cache.users)
}

func TestApply_AmbiguousMatchPicksMostRecent(t *testing.T) {
	store := newMemStore()
	r := newReconciler(store, models.PaymentStatusPending)
	ctx := context.Background()

	_, err := r.Apply(ctx, checkout("evt_cs_a", "cs_a", "pi_a", "paid", 10000))
	require.NoError(t, err)
	_, err = r.Apply(ctx, checkout("evt_cs_b", "cs_b", "", "unpaid", 20000))
	require.NoError(t, err)

	// Carries the session of B and the intent owned by A.
	res, err := r.Apply(ctx, checkout("evt_cs_b2", "cs_b", "pi_a", "paid", 20000))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeUpdated, res.Outcome)

	payments := store.paymentList()
	require.Len(t, payments, 2)
	for _, p := range payments {
		switch *p.StripeCheckoutSessionID {
		case "cs_a":
			assert.Equal(t, "pi_a", *p.StripePaymentIntentID)
		case "cs_b":
			assert.Equal(t, res.PaymentID, p.ID)
			assert.Nil(t, p.StripePaymentIntentID)
			assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
		}
	}
}
