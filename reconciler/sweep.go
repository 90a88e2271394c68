package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/repository"
)

const sweepBatch = 100

// GaugeRecorder is implemented by metrics backends that can publish absolute
// values. *awspkg.MetricsClient satisfies it.
type GaugeRecorder interface {
	RecordGauge(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

// SweepDeferred retries deferred events received more than minAge ago. An
// event whose payment now exists is folded in together with every other parked
// event of that payment; the rest stay deferred. It returns how many events
// were applied.
func (r *Reconciler) SweepDeferred(ctx context.Context, minAge time.Duration) (int, error) {
	rows, err := r.store.Events().ListDeferred(ctx, r.now().UTC().Add(-minAge), sweepBatch)
	if err != nil {
		return 0, err
	}

	applied := 0
	done := map[string]bool{}
	for _, row := range rows {
		if done[row.EventID] {
			continue
		}
		log := r.logger.With(zap.String("event_id", row.EventID), zap.String("event_type", row.EventType))
		res, err := r.retry(ctx, log, Kind(row.EventType), func() (Result, error) {
			return r.sweepOnce(ctx, row)
		})
		if err != nil {
			log.Error("deferred sweep failed", zap.Error(err))
			continue
		}
		if res.Replayed == 0 {
			continue
		}
		for _, id := range res.sweptIDs {
			done[id] = true
		}
		applied += res.Replayed
		log.Info("deferred events applied by sweep",
			zap.String("payment_id", res.PaymentID.String()),
			zap.String("status", string(res.Status)),
			zap.Int("replayed", res.Replayed))
		r.afterCommit(ctx, res)
	}

	r.recordBacklog(ctx)
	return applied, nil
}

func (r *Reconciler) sweepOnce(ctx context.Context, row models.WebhookEvent) (Result, error) {
	var res Result
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		res = Result{Outcome: OutcomeDeferred}

		ids := row.Identifiers()
		if err := tx.LockIdentifiers(ctx, ids); err != nil {
			return err
		}
		resolution, err := r.resolver.Resolve(ctx, tx.Payments(), ids)
		if err != nil || !resolution.Found() {
			return err
		}

		merged := Merge(resolution.Record, Partial{})
		replayed, err := r.replayDeferred(ctx, tx, &merged, "", resolution)
		if err != nil || len(replayed) == 0 {
			return err
		}
		res, err = r.persist(ctx, tx, resolution, merged, replayed)
		res.Replayed = len(replayed)
		res.sweptIDs = replayed
		return err
	})
	return res, err
}

func (r *Reconciler) recordBacklog(ctx context.Context) {
	g, ok := r.metrics.(GaugeRecorder)
	if !ok {
		return
	}
	n, err := r.store.Events().CountDeferred(ctx)
	if err != nil {
		r.logger.Warn("count deferred events failed", zap.Error(err))
		return
	}
	if err := g.RecordGauge(ctx, awspkg.MetricDeferredBacklog, float64(n), map[string]string{"Service": "gns-payments"}); err != nil {
		r.logger.Debug("metric dropped", zap.String("metric", awspkg.MetricDeferredBacklog), zap.Error(err))
	}
}

// StartSweeper runs SweepDeferred every interval until ctx is cancelled.
func (r *Reconciler) StartSweeper(ctx context.Context, interval, minAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.SweepDeferred(ctx, minAge); err != nil {
				r.logger.Error("deferred sweep failed", zap.Error(err))
			}
		}
	}
}
