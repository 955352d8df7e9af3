package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/klaspay/klaspay/internal/apierror"
	"github.com/klaspay/klaspay/model"
)

// ClaimResource atomically claims a resource id for processing. The insert
// races against every other delivery of the same logical notification; the
// UNIQUE constraint guarantees exactly one winner, with no read-then-write
// window. Losers get the current state of the existing row.
func (d Datasource) ClaimResource(ctx context.Context, resourceID, notificationID string) (model.ClaimResult, error) {
	ctx, span := otel.Tracer("dedup.database").Start(ctx, "Claiming resource id")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO dedup_records (resource_id, notification_id, state, claim_count, claimed_at)
		VALUES ($1, $2, 'CLAIMED', 1, NOW())
		ON CONFLICT (resource_id) DO NOTHING
	`, resourceID, notificationID)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim resource", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 1 {
		return model.ClaimWon, nil
	}

	// Lost the race or the row predates this delivery; report the state the
	// winner left behind.
	record, err := d.GetDedupRecord(ctx, resourceID)
	if err != nil {
		return "", err
	}
	return model.ClaimResultForState(record.State), nil
}

// GetDedupRecord retrieves the ledger row for a resource id.
func (d Datasource) GetDedupRecord(ctx context.Context, resourceID string) (*model.DedupRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT resource_id, COALESCE(notification_id, ''), state, COALESCE(reason, ''), claim_count, claimed_at, completed_at
		FROM dedup_records
		WHERE resource_id = $1
	`, resourceID)

	record := &model.DedupRecord{}
	var completedAt sql.NullTime
	err := row.Scan(&record.ResourceID, &record.NotificationID, &record.State, &record.Reason, &record.ClaimCount, &record.ClaimedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Dedup record for resource '%s' not found", resourceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dedup record", err)
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return record, nil
}

// MarkDedupComplete transitions a CLAIMED record to COMPLETED or FAILED.
// The conditional UPDATE makes the call idempotent: once a terminal state is
// set, later calls change nothing and the prior outcome is returned, with
// completed_at untouched.
func (d Datasource) MarkDedupComplete(ctx context.Context, resourceID, state, reason string) (*model.DedupRecord, bool, error) {
	ctx, span := otel.Tracer("dedup.database").Start(ctx, "Marking dedup record complete")
	defer span.End()

	if state != model.StateCompleted && state != model.StateFailed {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("'%s' is not a terminal dedup state", state), nil)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dedup_records
		SET state = $2, reason = NULLIF($3, ''), completed_at = NOW()
		WHERE resource_id = $1 AND state = 'CLAIMED'
	`, resourceID, state, reason)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark dedup record complete", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	record, err := d.GetDedupRecord(ctx, resourceID)
	if err != nil {
		return nil, false, err
	}

	return record, rowsAffected == 1, nil
}

// GetStuckDedupRecords finds claims that never reached a terminal state within
// the threshold, plus transient failures eligible for one more pass. Fed to
// the reconciliation sweep.
func (d Datasource) GetStuckDedupRecords(ctx context.Context, olderThan time.Duration, limit int) ([]*model.DedupRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT resource_id, COALESCE(notification_id, ''), state, COALESCE(reason, ''), claim_count, claimed_at, completed_at
		FROM dedup_records
		WHERE (state = 'CLAIMED' AND claimed_at < NOW() - $1 * INTERVAL '1 second')
		   OR (state = 'FAILED' AND reason = 'TRANSIENT_STORE_FAILURE')
		ORDER BY claimed_at ASC
		LIMIT $2
	`, int64(olderThan.Seconds()), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck dedup records", err)
	}
	defer rows.Close()

	var records []*model.DedupRecord

	for rows.Next() {
		record := &model.DedupRecord{}
		var completedAt sql.NullTime
		err = rows.Scan(&record.ResourceID, &record.NotificationID, &record.State, &record.Reason, &record.ClaimCount, &record.ClaimedAt, &completedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dedup record", err)
		}
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over dedup records", err)
	}

	return records, nil
}

// ReclaimForRetry re-opens a stuck or transiently failed record for another
// processing attempt. COMPLETED rows are excluded unconditionally: nothing
// ever leaves that state.
func (d Datasource) ReclaimForRetry(ctx context.Context, resourceID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE dedup_records
		SET state = 'CLAIMED', claim_count = claim_count + 1, claimed_at = NOW(), completed_at = NULL, reason = NULL
		WHERE resource_id = $1 AND state <> 'COMPLETED'
	`, resourceID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reclaim dedup record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected == 1, nil
}

// CountDedupByState returns how many records sit in each state.
func (d Datasource) CountDedupByState(ctx context.Context) (map[string]int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT state, COUNT(*)
		FROM dedup_records
		GROUP BY state
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count dedup records", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dedup counts", err)
		}
		counts[state] = count
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over dedup counts", err)
	}

	return counts, nil
}
