package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitantsoa1/gns-preprod/models"
)

var eventIDColumns = [3]string{"checkout_session_id", "payment_intent_id", "charge_id"}

// EventRepository is the applied-event ledger.
type EventRepository interface {
	// Claim inserts e unless its EventID is already recorded. It returns false
	// for a redelivered event.
	Claim(ctx context.Context, e *models.WebhookEvent) (bool, error)
	MarkApplied(ctx context.Context, eventID string, paymentID uuid.UUID, at time.Time) error
	// FindDeferred returns deferred events sharing an identifier with ids,
	// oldest first.
	FindDeferred(ctx context.Context, ids models.StripeIdentifiers) ([]models.WebhookEvent, error)
	// ListDeferred returns up to limit deferred events received before the
	// given time, oldest first.
	ListDeferred(ctx context.Context, before time.Time, limit int) ([]models.WebhookEvent, error)
	CountDeferred(ctx context.Context) (int64, error)
}

type gormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) EventRepository {
	return &gormEventRepo{db: db}
}

func (r *gormEventRepo) Claim(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, fmt.Errorf("claim event %s: %w", e.EventID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *gormEventRepo) MarkApplied(ctx context.Context, eventID string, paymentID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventApplied,
			"payment_id":   paymentID,
			"processed_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("mark event %s applied: %w", eventID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormEventRepo) FindDeferred(ctx context.Context, ids models.StripeIdentifiers) ([]models.WebhookEvent, error) {
	where, args := identifierClause(eventIDColumns, ids)
	if where == "" {
		return nil, nil
	}
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ?", models.WebhookEventDeferred).
		Where(where, args...).
		Order("occurred_at ASC, event_id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("find deferred events: %w", err)
	}
	return events, nil
}

func (r *gormEventRepo) ListDeferred(ctx context.Context, before time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND received_at < ?", models.WebhookEventDeferred, before).
		Order("received_at ASC, event_id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list deferred events: %w", err)
	}
	return events, nil
}

func (r *gormEventRepo) CountDeferred(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("status = ?", models.WebhookEventDeferred).
		Count(&n).Error
	return n, err
}
