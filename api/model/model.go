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
	"encoding/json"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/klaspay/klaspay/model"
)

// IncomingNotification is the raw webhook body the payment processor posts.
// Field names follow the processor's wire format. Amounts arrive either as
// integer minor units (amount_cents) or as a major-unit decimal (amount);
// amount_cents wins when both are present.
type IncomingNotification struct {
	NotificationID string      `json:"notification_id"`
	Action         string      `json:"action"`
	ResourceID     string      `json:"resource_id"`
	AmountCents    *int64      `json:"amount_cents"`
	Amount         json.Number `json:"amount"`
	LiveMode       bool        `json:"live_mode"`
	SentAt         string      `json:"sent_at"`
}

func (n *IncomingNotification) ValidateIncomingNotification() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.NotificationID, validation.Required),
		validation.Field(&n.ResourceID, validation.Required),
		validation.Field(&n.Action, validation.Required, validation.By(func(value interface{}) error {
			action, ok := value.(string)
			if !ok || !model.IsRecognizedAction(action) {
				return errors.New("unrecognized action")
			}
			return nil
		})),
		validation.Field(&n.AmountCents, validation.By(func(value interface{}) error {
			amount, ok := value.(*int64)
			if !ok || amount == nil {
				return nil
			}
			if *amount < 0 {
				return errors.New("amount_cents cannot be negative")
			}
			return nil
		})),
		validation.Field(&n.Amount, validation.By(func(value interface{}) error {
			amount, ok := value.(json.Number)
			if !ok || amount == "" {
				return nil
			}
			cents, err := model.ToMinorUnits(amount)
			if err != nil {
				return err
			}
			if cents < 0 {
				return errors.New("amount cannot be negative")
			}
			return nil
		})),
		validation.Field(&n.SentAt, validation.Date(time.RFC3339)),
	)
}

// ToNotification converts the wire form to the internal model. Assumes the
// body already passed validation, so the major-unit fallback cannot fail.
func (n *IncomingNotification) ToNotification() *model.PaymentNotification {
	asserted := n.AmountCents
	if asserted == nil && n.Amount != "" {
		if cents, err := model.ToMinorUnits(n.Amount); err == nil {
			asserted = &cents
		}
	}

	sentAt, _ := time.Parse(time.RFC3339, n.SentAt)
	return &model.PaymentNotification{
		NotificationID: n.NotificationID,
		Action:         n.Action,
		ResourceID:     n.ResourceID,
		AssertedAmount: asserted,
		LiveMode:       n.LiveMode,
		SentAt:         sentAt,
	}
}

// CreateEnrollment is the request body for registering a student on a course.
type CreateEnrollment struct {
	StudentID  string                 `json:"student_id"`
	CourseID   string                 `json:"course_id"`
	Sessions   int64                  `json:"sessions"`
	PriceCents int64                  `json:"price_cents"`
	DiscountBp int64                  `json:"discount_bp"`
	MetaData   map[string]interface{} `json:"meta_data"`
}

func (e *CreateEnrollment) ValidateCreateEnrollment() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.StudentID, validation.Required),
		validation.Field(&e.CourseID, validation.Required),
		validation.Field(&e.Sessions, validation.Required, validation.Min(int64(1))),
		validation.Field(&e.PriceCents, validation.Required, validation.Min(int64(1))),
		validation.Field(&e.DiscountBp, validation.Min(int64(0)), validation.Max(int64(10000))),
	)
}

// ToEnrollment converts the request to the internal model.
func (e *CreateEnrollment) ToEnrollment() *model.Enrollment {
	return &model.Enrollment{
		StudentID:  e.StudentID,
		CourseID:   e.CourseID,
		Sessions:   e.Sessions,
		PriceCents: e.PriceCents,
		DiscountBp: e.DiscountBp,
		MetaData:   e.MetaData,
	}
}

// RecoverRequest is the body for the manual sweep trigger.
type RecoverRequest struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}
