package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

func TestClaim_NewEvent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "webhook_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	ok, err := repo.Claim(context.Background(), &models.WebhookEvent{
		EventID:   "evt_1",
		EventType: "charge.refunded",
		Status:    models.WebhookEventApplied,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_RedeliveredEvent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT ("event_id") DO NOTHING`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	ok, err := repo.Claim(context.Background(), &models.WebhookEvent{
		EventID:   "evt_1",
		EventType: "charge.refunded",
		Status:    models.WebhookEventApplied,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkApplied(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "webhook_events" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkApplied(context.Background(), "evt_1", uuid.New(), time.Now())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkApplied_UnknownEvent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "webhook_events" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.MarkApplied(context.Background(), "evt_missing", uuid.New(), time.Now())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFindDeferred(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "webhook_events" WHERE status = $1 AND ((checkout_session_id = $2 OR payment_intent_id = $3)) ORDER BY occurred_at ASC, event_id ASC FOR UPDATE`)).
		WithArgs("deferred", "cs_1", "pi_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "event_type", "status", "payment_intent_id"}).
			AddRow(uuid.New(), "evt_early", "payment_intent.succeeded", "deferred", "pi_1"))

	events, err := repo.FindDeferred(context.Background(), models.StripeIdentifiers{CheckoutSessionID: "cs_1", PaymentIntentID: "pi_1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_early", events[0].EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeferred(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)
	before := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "webhook_events" WHERE status = $1 AND received_at < $2 ORDER BY received_at ASC, event_id ASC LIMIT $3`)).
		WithArgs("deferred", before, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "status", "charge_id"}).
			AddRow(uuid.New(), "evt_rf", "deferred", "ch_1"))

	events, err := repo.ListDeferred(context.Background(), before, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ch_1", events[0].ChargeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountDeferred(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormEventRepo(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "webhook_events" WHERE status = $1`)).
		WithArgs("deferred").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountDeferred(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
