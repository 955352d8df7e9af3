package klaspay

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

func newUniqueViolation() *pq.Error {
	return &pq.Error{Code: "23505"}
}

func expectDedupRecordFetch(mock sqlmock.Sqlmock, resourceID, state, reason string) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT resource_id")).
		WithArgs(resourceID).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "notification_id", "state", "reason", "claim_count", "claimed_at", "completed_at"}).
			AddRow(resourceID, "ntf_1", state, reason, 1, time.Now(), nil))
}

func expectEnrollmentFetch(mock sqlmock.Sqlmock, resourceID string, priceCents, sessions, discountBp int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id")).
		WithArgs(resourceID).
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "course_id", "sessions", "price_cents", "discount_bp", "payment_status", "payment_resource", "created_at", "meta_data"}).
			AddRow("enr_1", "std_1", "crs_algebra", sessions, priceCents, discountBp, model.PaymentStatusUnpaid, resourceID, time.Now(), []byte(`{}`)))
}

func TestApplyPaymentNotification(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(5000)

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateClaimed, "")
	expectEnrollmentFetch(mock, notif.ResourceID, 2500, 2, 0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(sqlmock.AnyArg(), notif.ResourceID, "enr_1", int64(5000), model.PaymentApplied, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr_1", notif.ResourceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs(notif.ResourceID, model.StateCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, notif.ResourceID, model.StateCompleted, "")

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentNotificationAmountMismatch(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(4000) // books say 5000

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateClaimed, "")
	expectEnrollmentFetch(mock, notif.ResourceID, 2500, 2, 0)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs(notif.ResourceID, model.StateFailed, model.ReasonAmountMismatch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, notif.ResourceID, model.StateFailed, model.ReasonAmountMismatch)

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.Error(t, err)
	assert.True(t, IsPermanentFailure(err))

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrAmountMismatch, apiErr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentNotificationDiscountedAmount(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(4500) // 2 x 2500 minus 10%

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateClaimed, "")
	expectEnrollmentFetch(mock, notif.ResourceID, 2500, 2, 1000)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(sqlmock.AnyArg(), notif.ResourceID, "enr_1", int64(4500), model.PaymentApplied, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr_1", notif.ResourceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs(notif.ResourceID, model.StateCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, notif.ResourceID, model.StateCompleted, "")

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentNotificationMissingEnrollment(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(5000)

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateClaimed, "")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id")).
		WithArgs(notif.ResourceID).
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "course_id", "sessions", "price_cents", "discount_bp", "payment_status", "payment_resource", "created_at", "meta_data"}))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs(notif.ResourceID, model.StateFailed, model.ReasonEnrollmentMissing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, notif.ResourceID, model.StateFailed, model.ReasonEnrollmentMissing)

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.Error(t, err)
	assert.True(t, IsPermanentFailure(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentNotificationTerminalRecordIsNoop(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(5000)

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateCompleted, "")

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.NoError(t, err)

	// Nothing beyond the record fetch happened.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPaymentNotificationDuplicatePaymentRowIsIdempotent(t *testing.T) {
	k, mock := newTestKlaspay(t)
	notif := validTestNotification(5000)

	expectDedupRecordFetch(mock, notif.ResourceID, model.StateClaimed, "")
	expectEnrollmentFetch(mock, notif.ResourceID, 2500, 2, 0)

	// An earlier crashed attempt already recorded the payment; the insert
	// conflicts and processing falls through to the conditional flips.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(newUniqueViolation())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr_1", notif.ResourceID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dedup_records")).
		WithArgs(notif.ResourceID, model.StateCompleted, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectDedupRecordFetch(mock, notif.ResourceID, model.StateCompleted, "")

	err := k.ApplyPaymentNotification(context.Background(), notif)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
