package klaspay

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/klaspay/klaspay/model"
)

func TestRecoverStuckNotificationsNothingStuck(t *testing.T) {
	k, mock := newTestKlaspay(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id")).
		WithArgs(int64(600), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "notification_id", "state", "reason", "claim_count", "claimed_at", "completed_at"}))

	n, err := k.RecoverStuckNotifications(context.Background(), 10*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStuckNotificationsExhaustsRetryBudget(t *testing.T) {
	k, mock := newTestKlaspay(t)

	// A transient failure that has already burned its claim budget.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id")).
		WithArgs(int64(600), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "notification_id", "state", "reason", "claim_count", "claimed_at", "completed_at"}).
			AddRow("payres_worn", "ntf_1", model.StateFailed, model.ReasonTransientFailure, 3, time.Now().Add(-time.Hour), time.Now()))

	// Re-opened, then failed permanently.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs("payres_worn").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs("payres_worn", model.StateFailed, model.ReasonRetriesExhausted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, "payres_worn", model.StateFailed, model.ReasonRetriesExhausted)

	n, err := k.RecoverStuckNotifications(context.Background(), 10*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStuckNotificationsSkipsRecordWithoutQueuedTask(t *testing.T) {
	k, mock := newTestKlaspay(t)

	// Stuck claim with retry budget left but no task left in the queue;
	// without a payload there is nothing to replay, so the record is closed
	// out permanently.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id")).
		WithArgs(int64(600), 1000).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "notification_id", "state", "reason", "claim_count", "claimed_at", "completed_at"}).
			AddRow("payres_lost", "ntf_1", model.StateClaimed, "", 1, time.Now().Add(-time.Hour), nil))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs("payres_lost", model.StateFailed, model.ReasonRetriesExhausted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, "payres_lost", model.StateFailed, model.ReasonRetriesExhausted)

	n, err := k.RecoverStuckNotifications(context.Background(), 10*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryProcessorStartStop(t *testing.T) {
	k, _ := newTestKlaspay(t)

	p := NewDedupRecoveryProcessor(k)
	assert.False(t, p.IsRunning())

	p.Start(context.Background())
	assert.True(t, p.IsRunning())

	// Starting twice is a no-op.
	p.Start(context.Background())
	assert.True(t, p.IsRunning())

	p.Stop()
	assert.False(t, p.IsRunning())
}
