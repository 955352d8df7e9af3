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

import "time"

// Recognized notification actions from the payment processor. Anything else is
// rejected at the validation boundary before any side effect.
const (
	ActionPaymentCreated = "payment.created"
	ActionPaymentUpdated = "payment.updated"
)

// PaymentNotification is the validated form of an inbound processor webhook.
// The processor may deliver the same logical notification many times, each
// delivery minting a fresh NotificationID; ResourceID is the only stable
// identity and is the dedup key.
type PaymentNotification struct {
	NotificationID string `json:"notification_id"`
	Action         string `json:"action"`
	ResourceID     string `json:"resource_id"`
	// AssertedAmount is the charge the processor claims, in minor units.
	// Nil when the notification carries no amount; the guard treats that the
	// same as a wrong amount, since the charge cannot be verified.
	AssertedAmount *int64    `json:"asserted_amount,omitempty"`
	LiveMode       bool      `json:"live_mode"`
	SentAt         time.Time `json:"sent_at"`
	ReceivedAt     time.Time `json:"received_at"`
}

// IsRecognizedAction reports whether the processor action is one we handle.
func IsRecognizedAction(action string) bool {
	switch action {
	case ActionPaymentCreated, ActionPaymentUpdated:
		return true
	}
	return false
}
