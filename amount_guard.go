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
	"fmt"

	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

// VerifyAssertedAmount checks the amount the processor claims was charged
// against the charge recomputed from the enrollment's own price, session
// count, and discount. The processor's figure is never trusted on its own: a
// notification that asserts a different amount than the books produce is
// treated as tampered and permanently rejected, never retried.
func VerifyAssertedAmount(enrollment *model.Enrollment, notification *model.PaymentNotification) error {
	expected := enrollment.ExpectedChargeCents()

	if notification.AssertedAmount == nil {
		return apierror.NewAPIError(apierror.ErrAmountMismatch,
			fmt.Sprintf("Notification for resource '%s' asserts no amount, expected %d", notification.ResourceID, expected), nil)
	}

	if *notification.AssertedAmount != expected {
		return apierror.NewAPIError(apierror.ErrAmountMismatch,
			fmt.Sprintf("Asserted amount %d does not match expected charge %d for resource '%s'",
				*notification.AssertedAmount, expected, notification.ResourceID), nil)
	}

	return nil
}
