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

package database

import (
	"context"
	"time"

	"github.com/klaspay/klaspay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	dedup      // Interface for dedup ledger operations
	enrollment // Interface for enrollment operations
	payment    // Interface for payment operations
}

// dedup defines the operations of the dedup ledger. ClaimResource is the
// linchpin: a single atomic insert-or-fail that decides who gets to act on a
// resource id.
type dedup interface {
	ClaimResource(ctx context.Context, resourceID, notificationID string) (model.ClaimResult, error)                       // Atomically claims a resource id
	GetDedupRecord(ctx context.Context, resourceID string) (*model.DedupRecord, error)                                     // Retrieves a dedup record
	MarkDedupComplete(ctx context.Context, resourceID, state, reason string) (*model.DedupRecord, bool, error)             // Transitions CLAIMED to a terminal state; idempotent
	GetStuckDedupRecords(ctx context.Context, olderThan time.Duration, limit int) ([]*model.DedupRecord, error)            // Finds claims that never completed plus retryable failures
	ReclaimForRetry(ctx context.Context, resourceID string) (bool, error)                                                  // Re-opens a non-completed record for one more attempt
	CountDedupByState(ctx context.Context) (map[string]int64, error)                                                       // Counts records per state for metrics
}

// enrollment defines methods for handling enrollments.
type enrollment interface {
	CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (*model.Enrollment, bool, error) // Creates an enrollment; duplicate submissions return the existing row
	GetEnrollmentByID(ctx context.Context, id string) (*model.Enrollment, error)                         // Retrieves an enrollment by ID
	GetEnrollmentByPaymentResource(ctx context.Context, resourceID string) (*model.Enrollment, error)    // Retrieves the enrollment a payment notification settles
	MarkEnrollmentPaid(ctx context.Context, enrollmentID, resourceID string) (bool, error)               // Conditionally flips UNPAID -> PAID
}

// payment defines methods for handling applied payments.
type payment interface {
	RecordPayment(ctx context.Context, payment *model.Payment) (*model.Payment, error) // Records an applied payment
	GetPaymentByResourceID(ctx context.Context, resourceID string) (*model.Payment, error)
}
