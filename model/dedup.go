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

// Dedup record lifecycle: UNSEEN -> CLAIMED -> {COMPLETED, FAILED}.
// FAILED -> CLAIMED is permitted only through the reconciliation sweep, and
// nothing ever leaves COMPLETED.
const (
	StateClaimed   = "CLAIMED"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Failure reasons recorded on a dedup record. AmountMismatch is permanent and
// never retried; transient store failures are retried up to a bound before
// being escalated.
const (
	ReasonAmountMismatch    = "AMOUNT_MISMATCH"
	ReasonTransientFailure  = "TRANSIENT_STORE_FAILURE"
	ReasonRetriesExhausted  = "RECOVERY_ATTEMPTS_EXHAUSTED"
	ReasonEnrollmentMissing = "ENROLLMENT_NOT_FOUND"
)

// ClaimResult is the outcome of an atomic dedup claim.
type ClaimResult string

const (
	ClaimWon              ClaimResult = "WON"
	ClaimAlreadyClaimed   ClaimResult = "ALREADY_CLAIMED"
	ClaimAlreadyCompleted ClaimResult = "ALREADY_COMPLETED"
	ClaimAlreadyFailed    ClaimResult = "ALREADY_FAILED"
)

// DedupRecord is the durable row that converts at-least-once delivery into an
// at-most-once effect. At most one row exists per ResourceID; rows are never
// deleted in normal operation so that late duplicates keep observing the
// terminal outcome.
type DedupRecord struct {
	ResourceID     string     `json:"resource_id"`
	NotificationID string     `json:"notification_id"`
	State          string     `json:"state"`
	Reason         string     `json:"reason,omitempty"`
	ClaimCount     int        `json:"claim_count"`
	ClaimedAt      time.Time  `json:"claimed_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the record has reached a final state.
func (r *DedupRecord) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}

// ClaimResultForState maps an existing row's state to the result a losing
// claimer observes.
func ClaimResultForState(state string) ClaimResult {
	switch state {
	case StateCompleted:
		return ClaimAlreadyCompleted
	case StateFailed:
		return ClaimAlreadyFailed
	default:
		return ClaimAlreadyClaimed
	}
}
