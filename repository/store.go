package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/mitantsoa1/gns-preprod/models"
)

var (
	// ErrConflict reports a lost optimistic-lock race or a unique-index violation
	// on one of the Stripe identifiers. Callers retry the whole unit of work.
	ErrConflict = errors.New("repository: concurrent modification")
	ErrNotFound = errors.New("repository: record not found")
)

// Store groups the repositories that share one database handle. WithinTx runs
// fn against a Store bound to a single transaction; fn returning an error rolls
// everything back.
type Store interface {
	Payments() PaymentRepository
	Events() EventRepository
	Products() ProductRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	// LockIdentifiers blocks until the calling transaction holds an exclusive
	// lock on every non-empty identifier of ids. Locks are released at commit
	// or rollback. Two transactions touching the same Stripe object therefore
	// run one after the other, even before either payment row exists.
	LockIdentifiers(ctx context.Context, ids models.StripeIdentifiers) error
	// TryLockIdentifiers is LockIdentifiers without waiting: a lock held by
	// another transaction yields ErrConflict. Locks taken out of LockKeys
	// order must use it.
	TryLockIdentifiers(ctx context.Context, ids models.StripeIdentifiers) error
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Payments() PaymentRepository { return NewGormPaymentRepo(s.db) }
func (s *gormStore) Events() EventRepository     { return NewGormEventRepo(s.db) }
func (s *gormStore) Products() ProductRepository { return NewGormProductRepo(s.db) }

func (s *gormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) LockIdentifiers(ctx context.Context, ids models.StripeIdentifiers) error {
	for _, key := range LockKeys(ids) {
		err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
		if err != nil {
			if isRetryable(err) {
				return ErrConflict
			}
			return fmt.Errorf("lock identifier %s: %w", key, err)
		}
	}
	return nil
}

func (s *gormStore) TryLockIdentifiers(ctx context.Context, ids models.StripeIdentifiers) error {
	for _, key := range LockKeys(ids) {
		var ok bool
		err := s.db.WithContext(ctx).Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", key).Scan(&ok).Error
		if err != nil {
			return fmt.Errorf("try lock identifier %s: %w", key, err)
		}
		if !ok {
			return ErrConflict
		}
	}
	return nil
}

// LockKeys returns the non-empty identifiers of ids in the order locks must be
// taken in.
func LockKeys(ids models.StripeIdentifiers) []string {
	var keys []string
	for _, v := range []string{ids.CheckoutSessionID, ids.PaymentIntentID, ids.ChargeID} {
		if v != "" {
			keys = append(keys, v)
		}
	}
	sort.Strings(keys)
	return keys
}

// isRetryable matches deadlocks and serialization failures. Postgres aborts
// the transaction, so the whole unit of work has to run again.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001")
}

// isUniqueViolation matches both the translated gorm error and the raw
// Postgres code, so it works whether or not TranslateError is enabled.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// identifierClause builds "(a = ? OR b = ?)" over the non-empty identifiers.
func identifierClause(cols [3]string, ids models.StripeIdentifiers) (string, []interface{}) {
	vals := [3]string{ids.CheckoutSessionID, ids.PaymentIntentID, ids.ChargeID}
	var parts []string
	var args []interface{}
	for i, v := range vals {
		if v == "" {
			continue
		}
		parts = append(parts, cols[i]+" = ?")
		args = append(args, v)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
