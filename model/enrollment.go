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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusUnpaid = "UNPAID"
	PaymentStatusPaid   = "PAID"

	PaymentApplied = "APPLIED"
)

// Enrollment is the business record a payment notification ultimately settles.
// (StudentID, CourseID) is unique: a double-submitted creation collapses to a
// single row at the storage layer.
type Enrollment struct {
	EnrollmentID    string                 `json:"enrollment_id"`
	StudentID       string                 `json:"student_id"`
	CourseID        string                 `json:"course_id"`
	Sessions        int64                  `json:"sessions"`
	PriceCents      int64                  `json:"price_cents"`
	DiscountBp      int64                  `json:"discount_bp"` // basis points, 0..10000
	PaymentStatus   string                 `json:"payment_status"`
	PaymentResource string                 `json:"payment_resource,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

// Payment records an applied charge against an enrollment, keyed by the
// processor's resource id.
type Payment struct {
	PaymentID    string    `json:"payment_id"`
	ResourceID   string    `json:"resource_id"`
	EnrollmentID string    `json:"enrollment_id"`
	AmountCents  int64     `json:"amount_cents"`
	Status       string    `json:"status"`
	AppliedAt    time.Time `json:"applied_at"`
}

// ExpectedChargeCents recomputes the charge this enrollment should produce from
// its current price, session count, and discount. The computation is exact:
// decimals all the way down, rounded to a whole cent only at the end.
func (e *Enrollment) ExpectedChargeCents() int64 {
	price := decimal.NewFromInt(e.PriceCents)
	sessions := decimal.NewFromInt(e.Sessions)
	discount := decimal.NewFromInt(10000 - e.DiscountBp).Div(decimal.NewFromInt(10000))
	return price.Mul(sessions).Mul(discount).Round(0).IntPart()
}
