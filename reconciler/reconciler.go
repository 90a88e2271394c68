package reconciler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/mitantsoa1/gns-preprod/models"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// Outcome says what applying an event did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// ErrRetriesExhausted wraps the last conflict once every attempt lost a race.
var ErrRetriesExhausted = errors.New("reconciler: retries exhausted")

type Result struct {
	Outcome        Outcome
	PaymentID      uuid.UUID
	Status         models.PaymentStatus
	PreviousStatus models.PaymentStatus
	// Replayed counts deferred events folded in by this application.
	Replayed int
	Attempts int

	payment  *models.Payment
	sweptIDs []string
}

// Publisher receives a message for every status change.
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, evt models.PaymentEvent) error
}

type Metrics interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
}

// CacheInvalidator drops cached views derived from a user's payments.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type Option func(*Reconciler)

func WithPublisher(p Publisher) Option        { return func(r *Reconciler) { r.publisher = p } }
func WithMetrics(m Metrics) Option            { return func(r *Reconciler) { r.metrics = m } }
func WithCache(c CacheInvalidator) Option     { return func(r *Reconciler) { r.cache = c } }
func WithMaxAttempts(n int) Option            { return func(r *Reconciler) { r.maxAttempts = n } }
func WithClock(now func() time.Time) Option   { return func(r *Reconciler) { r.now = now } }
func WithRetryBackoff(d time.Duration) Option { return func(r *Reconciler) { r.backoff = d } }

// Reconciler folds provider events into the payment ledger. Every application
// runs in one transaction: the event id is claimed in the ledger, the payment
// is resolved under a row lock, merged and written with a version check. Lost
// races roll back and the whole unit is retried.
type Reconciler struct {
	store      repository.Store
	normalizer *Normalizer
	resolver   *Resolver
	logger     *zap.Logger

	publisher   Publisher
	metrics     Metrics
	cache       CacheInvalidator
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func New(store repository.Store, normalizer *Normalizer, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		store:       store,
		normalizer:  normalizer,
		resolver:    NewResolver(logger),
		logger:      logger,
		maxAttempts: 5,
		backoff:     20 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

// Apply reconciles e. Correlation misses for non-checkout events are parked and
// reported as OutcomeDeferred; a redelivered event is OutcomeDuplicate. Only
// persistence failures are returned as errors.
func (r *Reconciler) Apply(ctx context.Context, e Event) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{Outcome: OutcomeIgnored}, err
	}
	log := r.logger.With(
		zap.String("event_id", e.EventID()),
		zap.String("event_type", string(e.Kind())),
	)

	partial := r.normalizer.Normalize(ctx, e)

	res, err := r.retry(ctx, log, e.Kind(), func() (Result, error) {
		return r.applyOnce(ctx, e, partial)
	})
	if err != nil {
		log.Error("reconcile failed", zap.Error(err))
		return res, err
	}

	switch res.Outcome {
	case OutcomeDuplicate:
		log.Info("event already applied")
		r.count(ctx, awspkg.MetricWebhookDuplicate, e.Kind())
	case OutcomeDeferred:
		log.Info("no payment for event yet, deferred")
		r.count(ctx, awspkg.MetricWebhookDeferred, e.Kind())
	default:
		log.Info("event reconciled",
			zap.String("outcome", string(res.Outcome)),
			zap.String("payment_id", res.PaymentID.String()),
			zap.String("status", string(res.Status)),
			zap.Int("replayed", res.Replayed))
		r.afterCommit(ctx, res)
	}
	return res, nil
}

// retry runs fn until it stops losing races or the attempts run out.
func (r *Reconciler) retry(ctx context.Context, log *zap.Logger, kind Kind, fn func() (Result, error)) (Result, error) {
	var (
		res     Result
		lastErr error
	)
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, lastErr = fn()
		res.Attempts = attempt
		if !errors.Is(lastErr, repository.ErrConflict) {
			return res, lastErr
		}
		log.Warn("reconcile conflict, retrying", zap.Int("attempt", attempt), zap.Error(lastErr))
		r.count(ctx, awspkg.MetricReconcileConflict, kind)
		if attempt == r.maxAttempts {
			break
		}
		if err := r.wait(ctx, attempt); err != nil {
			return res, err
		}
	}
	return res, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, res.Attempts, lastErr)
}

func (r *Reconciler) wait(ctx context.Context, attempt int) error {
	if r.backoff <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt) * r.backoff):
		return nil
	}
}

func (r *Reconciler) applyOnce(ctx context.Context, e Event, partial Partial) (Result, error) {
	var res Result
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		res = Result{}

		if err := tx.LockIdentifiers(ctx, e.Identifiers()); err != nil {
			return err
		}
		resolution, err := r.resolver.Resolve(ctx, tx.Payments(), e.Identifiers())
		if err != nil {
			return err
		}

		entry, err := r.ledgerEntry(e)
		if err != nil {
			return err
		}
		if !resolution.Found() && e.Kind() != KindCheckoutCompleted {
			entry.Status = models.WebhookEventDeferred
		}
		if resolution.Found() {
			entry.PaymentID = &resolution.Record.ID
		}

		claimed, err := tx.Events().Claim(ctx, entry)
		if err != nil {
			return err
		}
		if !claimed {
			res.Outcome = OutcomeDuplicate
			return nil
		}
		if entry.Status == models.WebhookEventDeferred {
			res.Outcome = OutcomeDeferred
			return nil
		}

		partial.IDs = resolution.claimable(partial.IDs)
		merged := Merge(resolution.Record, partial)

		replayed, err := r.replayDeferred(ctx, tx, &merged, e.EventID(), resolution)
		if err != nil {
			return err
		}
		res, err = r.persist(ctx, tx, resolution, merged, append([]string{e.EventID()}, replayed...))
		res.Replayed = len(replayed)
		return err
	})
	return res, err
}

// persist writes merged and marks eventIDs applied to it.
func (r *Reconciler) persist(ctx context.Context, tx repository.Store, resolution Resolution, merged models.Payment, eventIDs []string) (Result, error) {
	var res Result
	switch {
	case !resolution.Found():
		merged.ID = uuid.New()
		if err := tx.Payments().Create(ctx, &merged); err != nil {
			return res, err
		}
		res.Outcome = OutcomeCreated
	case reflect.DeepEqual(merged, *resolution.Record):
		res.Outcome = OutcomeUnchanged
		res.PreviousStatus = resolution.Record.Status
	default:
		if err := tx.Payments().Update(ctx, &merged); err != nil {
			return res, err
		}
		res.Outcome = OutcomeUpdated
		res.PreviousStatus = resolution.Record.Status
	}

	now := r.now().UTC()
	for _, id := range eventIDs {
		if err := tx.Events().MarkApplied(ctx, id, merged.ID, now); err != nil {
			return res, err
		}
	}

	res.PaymentID = merged.ID
	res.Status = merged.Status
	res.payment = &merged
	return res, nil
}

// replayDeferred folds every parked event that matches the record's identifiers
// into merged, repeating until the identifier set stops growing. It returns the
// ids of the replayed events.
func (r *Reconciler) replayDeferred(ctx context.Context, tx repository.Store, merged *models.Payment, currentID string, resolution Resolution) ([]string, error) {
	seen := map[string]bool{currentID: true}
	var replayed []string
	for {
		// Replay can add identifiers. Locking them first makes any concurrent
		// writer that parks an event under them either finish before the
		// lookup below or wait for this transaction to commit. These locks
		// come out of order, so a busy one aborts and retries the unit.
		if err := tx.TryLockIdentifiers(ctx, merged.Identifiers()); err != nil {
			return nil, err
		}
		deferred, err := tx.Events().FindDeferred(ctx, merged.Identifiers())
		if err != nil {
			return nil, err
		}
		progressed := false
		for _, row := range deferred {
			if seen[row.EventID] {
				continue
			}
			seen[row.EventID] = true

			ev, err := DecodeEvent(Kind(row.EventType), row.Payload)
			if err != nil {
				r.logger.Error("dropping undecodable deferred event",
					zap.String("event_id", row.EventID), zap.Error(err))
				continue
			}
			p := r.normalizer.Normalize(ctx, ev)
			p.IDs = resolution.claimable(p.IDs)
			*merged = Merge(merged, p)
			replayed = append(replayed, row.EventID)
			progressed = true
		}
		if !progressed {
			return replayed, nil
		}
	}
}

func (r *Reconciler) ledgerEntry(e Event) (*models.WebhookEvent, error) {
	payload, err := EncodeEvent(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.EventID(), err)
	}
	ids := e.Identifiers()
	return &models.WebhookEvent{
		EventID:           e.EventID(),
		EventType:         string(e.Kind()),
		Status:            models.WebhookEventApplied,
		CheckoutSessionID: ids.CheckoutSessionID,
		PaymentIntentID:   ids.PaymentIntentID,
		ChargeID:          ids.ChargeID,
		Payload:           datatypes.JSON(payload),
		OccurredAt:        e.OccurredAt().UTC(),
	}, nil
}

// afterCommit runs the side effects of a committed change. Failures are logged
// and never undo the reconciliation.
func (r *Reconciler) afterCommit(ctx context.Context, res Result) {
	p := res.payment
	if p == nil {
		return
	}
	if p.UserID != "" && r.cache != nil {
		if err := r.cache.InvalidateUser(ctx, p.UserID); err != nil {
			r.logger.Warn("dashboard cache invalidation failed", zap.String("user_id", p.UserID), zap.Error(err))
		}
	}
	if res.Outcome != OutcomeCreated && res.Status == res.PreviousStatus {
		return
	}

	if name := statusMetric(res.Status); name != "" {
		r.count(ctx, name, "")
	}
	if r.publisher == nil {
		return
	}
	evt := models.PaymentEvent{
		Type:           "payment_" + string(res.Status),
		PaymentID:      p.ID.String(),
		UserID:         p.UserID,
		Status:         res.Status,
		PreviousStatus: res.PreviousStatus,
		Amount:         p.Amount,
		AmountRefunded: p.AmountRefunded,
		Currency:       p.Currency,
		Timestamp:      r.now().UTC(),
	}
	if err := r.publisher.PublishPaymentEvent(ctx, evt); err != nil {
		r.logger.Warn("payment event publish failed",
			zap.String("payment_id", evt.PaymentID),
			zap.String("type", evt.Type),
			zap.Error(err))
	}
}

func statusMetric(s models.PaymentStatus) string {
	switch s {
	case models.PaymentStatusSucceeded:
		return awspkg.MetricPaymentSucceeded
	case models.PaymentStatusFailed:
		return awspkg.MetricPaymentFailed
	case models.PaymentStatusRefunded, models.PaymentStatusPartiallyRefunded:
		return awspkg.MetricPaymentRefunded
	case models.PaymentStatusDisputed:
		return awspkg.MetricPaymentDisputed
	}
	return ""
}

func (r *Reconciler) count(ctx context.Context, name string, kind Kind) {
	if r.metrics == nil {
		return
	}
	dims := map[string]string{"Service": "gns-payments"}
	if kind != "" {
		dims["EventType"] = string(kind)
	}
	if err := r.metrics.RecordCount(ctx, name, dims); err != nil {
		r.logger.Debug("metric dropped", zap.String("metric", name), zap.Error(err))
	}
}
