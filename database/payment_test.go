package database

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

func TestRecordPayment(t *testing.T) {
	ds, mock := newTestDatasource(t)

	payment := &model.Payment{
		PaymentID:    "pmt_1",
		ResourceID:   "pay_res_1",
		EnrollmentID: "enr_1",
		AmountCents:  10000,
		Status:       model.PaymentApplied,
		AppliedAt:    time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WithArgs(payment.PaymentID, payment.ResourceID, payment.EnrollmentID, payment.AmountCents, payment.Status, payment.AppliedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorded, err := ds.RecordPayment(context.Background(), payment)
	assert.NoError(t, err)
	assert.Equal(t, "pmt_1", recorded.PaymentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPaymentDuplicateResource(t *testing.T) {
	ds, mock := newTestDatasource(t)

	payment := &model.Payment{
		PaymentID:    "pmt_2",
		ResourceID:   "pay_res_1",
		EnrollmentID: "enr_1",
		AmountCents:  10000,
		Status:       model.PaymentApplied,
		AppliedAt:    time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := ds.RecordPayment(context.Background(), payment)
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPaymentByResourceID(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payment_id")).
		WithArgs("pay_res_1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "resource_id", "enrollment_id", "amount_cents", "status", "applied_at"}).
			AddRow("pmt_1", "pay_res_1", "enr_1", 10000, model.PaymentApplied, time.Now()))

	payment, err := ds.GetPaymentByResourceID(context.Background(), "pay_res_1")
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), payment.AmountCents)
	assert.Equal(t, "enr_1", payment.EnrollmentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
