package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/klaspay/klaspay/model"
)

func TestCreateEnrollment(t *testing.T) {
	ds, mock := newTestDatasource(t)

	enrollment := &model.Enrollment{
		EnrollmentID:    "enr_1",
		StudentID:       "std_1",
		CourseID:        "crs_algebra",
		Sessions:        4,
		PriceCents:      2500,
		DiscountBp:      0,
		PaymentStatus:   model.PaymentStatusUnpaid,
		PaymentResource: "pay_res_1",
		CreatedAt:       time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(enrollment.EnrollmentID, enrollment.StudentID, enrollment.CourseID, enrollment.Sessions,
			enrollment.PriceCents, enrollment.DiscountBp, enrollment.PaymentStatus, enrollment.PaymentResource,
			enrollment.CreatedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, isNew, err := ds.CreateEnrollment(context.Background(), enrollment)
	assert.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "enr_1", created.EnrollmentID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEnrollmentDoubleSubmitReturnsExisting(t *testing.T) {
	ds, mock := newTestDatasource(t)

	enrollment := &model.Enrollment{
		EnrollmentID:    "enr_2",
		StudentID:       "std_1",
		CourseID:        "crs_algebra",
		Sessions:        4,
		PriceCents:      2500,
		PaymentStatus:   model.PaymentStatusUnpaid,
		PaymentResource: "pay_res_2",
		CreatedAt:       time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnError(&pq.Error{Code: "23505"})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id")).
		WithArgs("std_1", "crs_algebra").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "course_id", "sessions", "price_cents", "discount_bp", "payment_status", "payment_resource", "created_at", "meta_data"}).
			AddRow("enr_1", "std_1", "crs_algebra", 4, 2500, 0, model.PaymentStatusUnpaid, "pay_res_1", time.Now(), []byte(`{}`)))

	existing, isNew, err := ds.CreateEnrollment(context.Background(), enrollment)
	assert.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "enr_1", existing.EnrollmentID)
	assert.Equal(t, "pay_res_1", existing.PaymentResource)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEnrollmentByPaymentResource(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id")).
		WithArgs("pay_res_1").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "course_id", "sessions", "price_cents", "discount_bp", "payment_status", "payment_resource", "created_at", "meta_data"}).
			AddRow("enr_1", "std_1", "crs_algebra", 4, 2500, 1000, model.PaymentStatusUnpaid, "pay_res_1", time.Now(), []byte(`{"channel":"web"}`)))

	enrollment, err := ds.GetEnrollmentByPaymentResource(context.Background(), "pay_res_1")
	assert.NoError(t, err)
	assert.Equal(t, "enr_1", enrollment.EnrollmentID)
	assert.Equal(t, int64(1000), enrollment.DiscountBp)
	assert.Equal(t, "web", enrollment.MetaData["channel"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEnrollmentByPaymentResourceNotFound(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id")).
		WithArgs("pay_res_unknown").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "course_id", "sessions", "price_cents", "discount_bp", "payment_status", "payment_resource", "created_at", "meta_data"}))

	_, err := ds.GetEnrollmentByPaymentResource(context.Background(), "pay_res_unknown")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEnrollmentPaidOnlyOnce(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr_1", "pay_res_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := ds.MarkEnrollmentPaid(context.Background(), "enr_1", "pay_res_1")
	assert.NoError(t, err)
	assert.True(t, applied)

	// Replaying the same mutation matches no rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr_1", "pay_res_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err = ds.MarkEnrollmentPaid(context.Background(), "enr_1", "pay_res_1")
	assert.NoError(t, err)
	assert.False(t, applied)

	assert.NoError(t, mock.ExpectationsWereMet())
}
