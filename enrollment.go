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
	"fmt"
	"time"

	"github.com/klaspay/klaspay/internal/notification"
	"github.com/klaspay/klaspay/model"
)

func (k *Klaspay) postEnrollmentActions(_ context.Context, enrollment *model.Enrollment) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   "enrollment.created",
			Payload: enrollment,
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// CreateEnrollment registers a student for a course and mints the payment
// resource id the processor will later reference in its notifications. A
// double submission for the same student and course returns the original
// enrollment unchanged, so clients can retry creation safely.
func (k *Klaspay) CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (*model.Enrollment, bool, error) {
	enrollment.EnrollmentID = model.GenerateUUIDWithSuffix("enr")
	enrollment.PaymentResource = model.GenerateUUIDWithSuffix("payres")
	enrollment.PaymentStatus = model.PaymentStatusUnpaid
	enrollment.CreatedAt = time.Now()

	created, isNew, err := k.datasource.CreateEnrollment(ctx, enrollment)
	if err != nil {
		return nil, false, err
	}
	if isNew {
		k.postEnrollmentActions(ctx, created)
	}
	return created, isNew, nil
}

// GetEnrollment retrieves an enrollment by id, read-through cached. The cache
// only ever shortens the read path; any miss or failure falls back to the
// store.
func (k *Klaspay) GetEnrollment(ctx context.Context, id string) (*model.Enrollment, error) {
	cacheKey := fmt.Sprintf("klaspay:enrollment:%s", id)

	if k.cache != nil {
		var cached model.Enrollment
		if err := k.cache.Get(ctx, cacheKey, &cached); err == nil && cached.EnrollmentID != "" {
			return &cached, nil
		}
	}

	enrollment, err := k.datasource.GetEnrollmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if k.cache != nil && enrollment.PaymentStatus == model.PaymentStatusPaid {
		// Paid enrollments no longer change; unpaid ones flip soon.
		if err := k.cache.Set(ctx, cacheKey, enrollment, 10*time.Minute); err != nil {
			notification.NotifyError(err)
		}
	}

	return enrollment, nil
}
