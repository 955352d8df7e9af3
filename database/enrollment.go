package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

// CreateEnrollment persists a new enrollment. A second submission for the same
// (student_id, course_id) pair hits the unique constraint; the existing row is
// returned with created=false so the caller can respond idempotently.
func (d Datasource) CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (*model.Enrollment, bool, error) {
	ctx, span := otel.Tracer("enrollment.database").Start(ctx, "Creating enrollment record")
	defer span.End()

	metaDataJSON, err := json.Marshal(enrollment.MetaData)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO enrollments (enrollment_id, student_id, course_id, sessions, price_cents, discount_bp, payment_status, payment_resource, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, enrollment.EnrollmentID, enrollment.StudentID, enrollment.CourseID, enrollment.Sessions, enrollment.PriceCents,
		enrollment.DiscountBp, enrollment.PaymentStatus, enrollment.PaymentResource, enrollment.CreatedAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			existing, getErr := d.getEnrollmentByStudentAndCourse(ctx, enrollment.StudentID, enrollment.CourseID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create enrollment", err)
	}

	return enrollment, true, nil
}

// GetEnrollmentByID retrieves an enrollment by its enrollment id.
func (d Datasource) GetEnrollmentByID(ctx context.Context, id string) (*model.Enrollment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT enrollment_id, student_id, course_id, sessions, price_cents, discount_bp, payment_status, payment_resource, created_at, meta_data
		FROM enrollments
		WHERE enrollment_id = $1
	`, id)

	return scanEnrollment(row, fmt.Sprintf("Enrollment with ID '%s' not found", id))
}

// GetEnrollmentByPaymentResource resolves the enrollment a payment
// notification settles. The resource id carried by the notification is the
// payment_resource minted at enrollment creation.
func (d Datasource) GetEnrollmentByPaymentResource(ctx context.Context, resourceID string) (*model.Enrollment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT enrollment_id, student_id, course_id, sessions, price_cents, discount_bp, payment_status, payment_resource, created_at, meta_data
		FROM enrollments
		WHERE payment_resource = $1
	`, resourceID)

	return scanEnrollment(row, fmt.Sprintf("No enrollment found for payment resource '%s'", resourceID))
}

// MarkEnrollmentPaid flips an UNPAID enrollment to PAID. The WHERE guard makes
// the mutation idempotent: once paid, replaying it changes nothing.
func (d Datasource) MarkEnrollmentPaid(ctx context.Context, enrollmentID, resourceID string) (bool, error) {
	ctx, span := otel.Tracer("enrollment.database").Start(ctx, "Marking enrollment paid")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE enrollments
		SET payment_status = 'PAID'
		WHERE enrollment_id = $1 AND payment_resource = $2 AND payment_status = 'UNPAID'
	`, enrollmentID, resourceID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark enrollment paid", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected == 1, nil
}

func (d Datasource) getEnrollmentByStudentAndCourse(ctx context.Context, studentID, courseID string) (*model.Enrollment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT enrollment_id, student_id, course_id, sessions, price_cents, discount_bp, payment_status, payment_resource, created_at, meta_data
		FROM enrollments
		WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)

	return scanEnrollment(row, fmt.Sprintf("Enrollment for student '%s' in course '%s' not found", studentID, courseID))
}

func scanEnrollment(row *sql.Row, notFoundMsg string) (*model.Enrollment, error) {
	enrollment := &model.Enrollment{}
	var metaDataJSON []byte
	err := row.Scan(&enrollment.EnrollmentID, &enrollment.StudentID, &enrollment.CourseID, &enrollment.Sessions,
		&enrollment.PriceCents, &enrollment.DiscountBp, &enrollment.PaymentStatus, &enrollment.PaymentResource,
		&enrollment.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, notFoundMsg, err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve enrollment", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &enrollment.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return enrollment, nil
}
