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

	"github.com/sirupsen/logrus"

	"github.com/klaspay/klaspay/config"
	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

// IngestResult is what the webhook endpoint reports back to the payment
// processor for a single delivery.
type IngestResult struct {
	ResourceID string            `json:"resource_id"`
	Accepted   bool              `json:"accepted"`
	Duplicate  bool              `json:"duplicate"`
	State      string            `json:"state,omitempty"`
	Claim      model.ClaimResult `json:"-"`
}

// IngestNotification is the webhook hot path. It validates the notification,
// atomically claims its resource id, and hands the claimed work to the
// bounded queue. The database round-trip runs under a deadline so a slow
// ledger degrades into a retryable 503 for the processor rather than a hung
// connection.
//
// Exactly one delivery per resource id ever wins the claim; every other
// delivery is reported as a duplicate with the current state of the record.
func (k *Klaspay) IngestNotification(ctx context.Context, notification *model.PaymentNotification) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "Ingesting payment notification")
	defer span.End()

	if err := validateNotification(notification); err != nil {
		if k.metrics != nil {
			k.metrics.CountRejected()
		}
		return nil, err
	}
	notification.ReceivedAt = time.Now()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	// Capacity is checked before the ledger is touched so an overflowed
	// delivery leaves no dedup row behind: the processor's redelivery competes
	// for the claim fresh once the backlog drains. Concurrent admissions can
	// overshoot the bound slightly; it protects the workers, not an exact
	// count.
	depth, err := k.queue.Depth()
	if err != nil {
		return nil, err
	}
	if depth >= cfg.Queue.Capacity {
		if k.metrics != nil {
			k.metrics.CountOverflowed()
		}
		return nil, apierror.NewAPIError(apierror.ErrServiceUnavailable,
			fmt.Sprintf("Processing queue is at capacity (%d), retry later", cfg.Queue.Capacity), nil)
	}

	claimCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Ingest.ClaimTimeoutMs)*time.Millisecond)
	defer cancel()

	claim, err := k.datasource.ClaimResource(claimCtx, notification.ResourceID, notification.NotificationID)
	if err != nil {
		if claimCtx.Err() == context.DeadlineExceeded {
			return nil, apierror.NewAPIError(apierror.ErrServiceUnavailable, "Dedup ledger timed out, retry later", err)
		}
		return nil, err
	}

	if claim != model.ClaimWon {
		if k.metrics != nil {
			k.metrics.CountDuplicate()
		}
		return &IngestResult{ResourceID: notification.ResourceID, Duplicate: true, State: stateForClaim(claim), Claim: claim}, nil
	}

	if err := k.queue.Enqueue(ctx, notification); err != nil {
		// The claim is already durable; a Redis failure this late is parked
		// as a transient failure so the record does not sit CLAIMED forever
		// and the sweep alerts on it.
		_, _, markErr := k.datasource.MarkDedupComplete(ctx, notification.ResourceID, model.StateFailed, model.ReasonTransientFailure)
		if markErr != nil {
			logrus.Errorf("failed to park unqueued claim %s: %v", notification.ResourceID, markErr)
		}
		return nil, err
	}

	if k.metrics != nil {
		k.metrics.CountAccepted()
	}
	return &IngestResult{ResourceID: notification.ResourceID, Accepted: true, Claim: model.ClaimWon}, nil
}

func stateForClaim(claim model.ClaimResult) string {
	switch claim {
	case model.ClaimAlreadyCompleted:
		return model.StateCompleted
	case model.ClaimAlreadyFailed:
		return model.StateFailed
	default:
		return model.StateClaimed
	}
}

func validateNotification(notification *model.PaymentNotification) error {
	if notification.ResourceID == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Notification is missing a resource id", nil)
	}
	if notification.NotificationID == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Notification is missing a notification id", nil)
	}
	if !model.IsRecognizedAction(notification.Action) {
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unrecognized action '%s'", notification.Action), nil)
	}
	if notification.AssertedAmount != nil && *notification.AssertedAmount < 0 {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Asserted amount cannot be negative", nil)
	}
	return nil
}
