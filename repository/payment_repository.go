package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitantsoa1/gns-preprod/models"
)

var paymentIDColumns = [3]string{"stripe_checkout_session_id", "stripe_payment_intent_id", "stripe_charge_id"}

// PaymentFilter narrows admin listings. Zero values mean no filter.
type PaymentFilter struct {
	Status models.PaymentStatus
	UserID string
	Page   int
	Limit  int
}

type PaymentRepository interface {
	// FindByIdentifiers returns every payment sharing at least one identifier
	// with ids, most recently updated first, locking the rows for update.
	FindByIdentifiers(ctx context.Context, ids models.StripeIdentifiers) ([]models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	Create(ctx context.Context, p *models.Payment) error
	// Update writes p if its stored version still equals p.Version and bumps
	// the version on success.
	Update(ctx context.Context, p *models.Payment) error
	List(ctx context.Context, f PaymentFilter) ([]models.Payment, int64, error)
	ListByUser(ctx context.Context, userID string) ([]models.Payment, error)
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) FindByIdentifiers(ctx context.Context, ids models.StripeIdentifiers) ([]models.Payment, error) {
	where, args := identifierClause(paymentIDColumns, ids)
	if where == "" {
		return nil, nil
	}
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(where, args...).
		Order("updated_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("find payments by identifiers: %w", err)
	}
	return payments, nil
}

func (r *gormPaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormPaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *gormPaymentRepo) Update(ctx context.Context, p *models.Payment) error {
	expected := p.Version
	p.Version = expected + 1

	res := r.db.WithContext(ctx).
		Model(p).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		p.Version = expected
		if isUniqueViolation(res.Error) {
			return ErrConflict
		}
		return fmt.Errorf("update payment %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = expected
		return ErrConflict
	}
	return nil
}

func (r *gormPaymentRepo) List(ctx context.Context, f PaymentFilter) ([]models.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Limit).Limit(f.Limit)
	}

	var payments []models.Payment
	if err := q.Order("created_at DESC").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *gormPaymentRepo) ListByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}
