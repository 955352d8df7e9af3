package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

// RecordPayment persists an applied payment. The unique constraint on
// resource_id is a second line of defence under the dedup ledger: even if a
// duplicate slipped through, the same resource can never settle twice.
func (d Datasource) RecordPayment(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	ctx, span := otel.Tracer("payment.database").Start(ctx, "Recording applied payment")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payments (payment_id, resource_id, enrollment_id, amount_cents, status, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, payment.PaymentID, payment.ResourceID, payment.EnrollmentID, payment.AmountCents, payment.Status, payment.AppliedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Payment for resource '%s' already recorded", payment.ResourceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payment", err)
	}

	return payment, nil
}

// GetPaymentByResourceID retrieves the applied payment for a resource id.
func (d Datasource) GetPaymentByResourceID(ctx context.Context, resourceID string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT payment_id, resource_id, enrollment_id, amount_cents, status, applied_at
		FROM payments
		WHERE resource_id = $1
	`, resourceID)

	payment := &model.Payment{}
	err := row.Scan(&payment.PaymentID, &payment.ResourceID, &payment.EnrollmentID, &payment.AmountCents, &payment.Status, &payment.AppliedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment for resource '%s' not found", resourceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}

	return payment, nil
}
