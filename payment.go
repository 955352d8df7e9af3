/*
Copyright 2025 Klaspay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package klaspay

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/klaspay/klaspay/internal/apierror"
	redlock "github.com/klaspay/klaspay/internal/lock"
	"github.com/klaspay/klaspay/internal/notification"
	"github.com/klaspay/klaspay/model"
)

var (
	tracer = otel.Tracer("Queue payment")
)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// IsPermanentFailure reports whether an error from payment processing must
// never be retried.
func IsPermanentFailure(err error) bool {
	apiErr, ok := err.(apierror.APIError)
	if !ok {
		return false
	}
	return apiErr.Code == apierror.ErrAmountMismatch || apiErr.Code == apierror.ErrNotFound
}

func (k *Klaspay) acquireLock(ctx context.Context, resourceID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(k.redis, resourceID, model.GenerateUUIDWithSuffix("loc"))
	err := locker.Lock(ctx, time.Minute*30)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

// ApplyPaymentNotification is the worker-side half of processing. The caller
// holds a claimed dedup record for the notification's resource id; this
// method verifies the asserted amount, applies the payment to the enrollment,
// and drives the record to its terminal state.
//
// Outcomes:
//   - success: payment recorded, enrollment PAID, record COMPLETED
//   - amount mismatch or missing enrollment: record FAILED permanently
//   - store failure: error returned with the record still CLAIMED, so the
//     queue retries and the sweep eventually picks it up
func (k *Klaspay) ApplyPaymentNotification(ctx context.Context, notif *model.PaymentNotification) error {
	ctx, span := tracer.Start(ctx, "Applying payment notification")
	defer span.End()

	record, err := k.datasource.GetDedupRecord(ctx, notif.ResourceID)
	if err != nil {
		return logAndRecordError(span, "fetch dedup record error: ", err)
	}
	if record.Terminal() {
		// A duplicate task slipped past the queue-level dedup; the ledger
		// already holds the outcome, so this delivery is a no-op.
		logrus.Infof("Resource %s already %s, skipping", notif.ResourceID, record.State)
		return nil
	}

	locker, err := k.acquireLock(ctx, notif.ResourceID)
	if err != nil {
		return logAndRecordError(span, "lock acquisition error: ", err)
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error("lock error", err)
		}
	}(locker, ctx)

	enrollment, err := k.datasource.GetEnrollmentByPaymentResource(ctx, notif.ResourceID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			return k.failPayment(ctx, notif, model.ReasonEnrollmentMissing, err)
		}
		return logAndRecordError(span, "enrollment lookup error: ", err)
	}

	if err := VerifyAssertedAmount(enrollment, notif); err != nil {
		return k.failPayment(ctx, notif, model.ReasonAmountMismatch, err)
	}

	if err := k.applyWithRetry(ctx, enrollment, notif); err != nil {
		return logAndRecordError(span, "payment application error: ", err)
	}

	if _, applied, err := k.datasource.MarkDedupComplete(ctx, notif.ResourceID, model.StateCompleted, ""); err != nil {
		return logAndRecordError(span, "mark complete error: ", err)
	} else if !applied {
		logrus.Warnf("Resource %s reached a terminal state concurrently", notif.ResourceID)
	}

	k.postPaymentActions(ctx, enrollment, notif)
	return nil
}

// applyWithRetry performs the idempotent store mutation under a short
// exponential backoff so that a blip on the database connection does not burn
// a whole queue-level retry.
func (k *Klaspay) applyWithRetry(ctx context.Context, enrollment *model.Enrollment, notif *model.PaymentNotification) error {
	operation := func() error {
		payment := &model.Payment{
			PaymentID:    model.GenerateUUIDWithSuffix("pmt"),
			ResourceID:   notif.ResourceID,
			EnrollmentID: enrollment.EnrollmentID,
			AmountCents:  *notif.AssertedAmount,
			Status:       model.PaymentApplied,
			AppliedAt:    time.Now(),
		}
		if _, err := k.datasource.RecordPayment(ctx, payment); err != nil {
			if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
				// Already recorded by an earlier attempt; fall through to the
				// status flip, which is conditional and safe to replay.
				return nil
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}

	if _, err := k.datasource.MarkEnrollmentPaid(ctx, enrollment.EnrollmentID, notif.ResourceID); err != nil {
		return err
	}
	return nil
}

// failPayment drives the record to FAILED with the given reason and notifies
// subscribers. The returned error carries the original failure so the worker
// can decide whether the task should be retried.
func (k *Klaspay) failPayment(ctx context.Context, notif *model.PaymentNotification, reason string, cause error) error {
	if _, _, err := k.datasource.MarkDedupComplete(ctx, notif.ResourceID, model.StateFailed, reason); err != nil {
		logrus.Errorf("failed to mark resource %s failed: %v", notif.ResourceID, err)
		return err
	}

	event := "payment.failed"
	if reason == model.ReasonAmountMismatch {
		event = "payment.amount_mismatch"
	}
	if err := SendWebhook(NewWebhook{Event: event, Payload: notif}); err != nil {
		notification.NotifyError(err)
	}
	return cause
}

// ParkFailedNotification marks a notification FAILED with the given reason.
// Workers use it when a transient failure has exhausted its retry budget so
// the reconciliation sweep can pick the record up later.
func (k *Klaspay) ParkFailedNotification(ctx context.Context, notif *model.PaymentNotification, reason string) error {
	if err := k.failPayment(ctx, notif, reason, nil); err != nil {
		return err
	}
	return nil
}

func (k *Klaspay) postPaymentActions(_ context.Context, enrollment *model.Enrollment, notif *model.PaymentNotification) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event: "payment.completed",
			Payload: map[string]interface{}{
				"resource_id":   notif.ResourceID,
				"enrollment_id": enrollment.EnrollmentID,
				"amount_cents":  *notif.AssertedAmount,
			},
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// GetPayment retrieves an applied payment by resource id.
func (k *Klaspay) GetPayment(ctx context.Context, resourceID string) (*model.Payment, error) {
	return k.datasource.GetPaymentByResourceID(ctx, resourceID)
}

// GetDedupRecord retrieves the dedup ledger row for a resource id.
func (k *Klaspay) GetDedupRecord(ctx context.Context, resourceID string) (*model.DedupRecord, error) {
	return k.datasource.GetDedupRecord(ctx, resourceID)
}
