package backlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loom/internal/pipeline"
	"loom/internal/services"
)

// ClaimBatch atomically selects up to batchSize eligible items for a stage
// and marks them in_progress under the caller's worker ID. Eligible means the
// stage row is pending (or in_progress with an expired lease) and every
// upstream stage is complete. Items are handed out in creation order.
//
// The mark happens in one atomic UPDATE, so concurrent claimers can never
// receive overlapping batches: whoever executes first takes the rows, the
// other claimer's statement no longer matches them. A claimer that loses the
// SQLite write lock retries via the busy backoff instead of blocking, which
// is the skip-locked behavior workers rely on to avoid deadlocking each
// other. The lock is released as soon as the mark commits; the in_progress
// marker itself is the concurrency control during the (much slower)
// enrichment call.
//
// An empty result is the normal queue-drained signal, not an error.
func (s *Store) ClaimBatch(ctx context.Context, stage pipeline.Stage, workerID string, batchSize int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	if !s.pipe.Contains(stage) {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if batchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}

	now := time.Now()
	claimedAt := formatTime(now)
	leaseExpiry := formatTime(now.Add(s.leaseTTL))

	var query strings.Builder
	query.WriteString(`
        UPDATE stage_states
        SET status = ?, claimed_by = ?, claimed_at = ?, lease_expires_at = ?, updated_at = ?
        WHERE stage = ? AND item_id IN (
            SELECT ss.item_id FROM stage_states ss
            WHERE ss.stage = ?
              AND (ss.status = ?
                   OR (ss.status = ? AND ss.lease_expires_at IS NOT NULL AND ss.lease_expires_at < ?))`)
	args := []any{
		StatusInProgress, workerID, claimedAt, leaseExpiry, claimedAt,
		string(stage),
		string(stage),
		StatusPending,
		StatusInProgress, claimedAt,
	}

	upstreams := s.pipe.Upstream(stage)
	if len(upstreams) > 0 {
		query.WriteString(`
              AND NOT EXISTS (
                  SELECT 1 FROM stage_states up
                  WHERE up.item_id = ss.item_id
                    AND up.stage IN (` + makePlaceholders(len(upstreams)) + `)
                    AND up.status != ?)`)
		for _, up := range upstreams {
			args = append(args, string(up))
		}
		args = append(args, StatusComplete)
	}

	query.WriteString(`
            ORDER BY ss.item_id
            LIMIT ?
        )`)
	args = append(args, batchSize)

	res, err := s.execWithRetry(ctx, query.String(), args...)
	if err != nil {
		return nil, storeErr("claim batch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr("claim rows affected", err)
	}
	if affected == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+prefixedItemColumns+`
         FROM work_items i
         JOIN stage_states ss ON ss.item_id = i.id
         WHERE ss.stage = ? AND ss.status = ? AND ss.claimed_by = ? AND ss.claimed_at = ?
         ORDER BY i.id`,
		string(stage),
		StatusInProgress,
		workerID,
		claimedAt,
	)
	if err != nil {
		return nil, storeErr("load claimed items", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("scan claimed item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const prefixedItemColumns = "i.id, i.payload_ref, i.payload, i.source, i.created_at, i.updated_at"

// CommitResult marks a claimed stage complete and stores its result. The
// update is guarded on the caller still holding the claim; losing that race
// (another worker reclaimed an expired lease and finished first) returns a
// store conflict, leaving the winner's result intact. That guard is what
// keeps a crashed-and-reclaimed attempt from double-applying its effects.
func (s *Store) CommitResult(ctx context.Context, itemID int64, stage pipeline.Stage, workerID, resultJSON string) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_states
         SET status = ?, result_json = ?, last_error = NULL, error_class = NULL,
             claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL,
             completed_at = ?, updated_at = ?
         WHERE item_id = ? AND stage = ? AND status = ? AND claimed_by = ?`,
		StatusComplete,
		nullableString(resultJSON),
		now,
		now,
		itemID,
		string(stage),
		StatusInProgress,
		workerID,
	)
	if err != nil {
		return storeErr("commit result", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("commit result rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d stage %s not held by %s", services.ErrStoreConflict, itemID, stage, workerID)
	}
	return nil
}

// CommitFailure records a failed attempt: the retry counter increases, the
// error text and class are stored, and the stage returns to pending until
// the retry budget is spent, then dead-letters. Every failure class burns
// the budget the same way, so a permanently failing item still gets its
// full ceiling of cycles before it is parked. Returns the resulting
// status. Guarded on the claim like CommitResult.
func (s *Store) CommitFailure(ctx context.Context, itemID int64, stage pipeline.Stage, workerID string, errClass services.Class, errText string) (Status, error) {
	ctx = ensureContext(ctx)

	state, err := s.StageState(ctx, itemID, stage)
	if err != nil {
		return "", err
	}
	if state.Status != StatusInProgress || state.ClaimedBy != workerID {
		return "", fmt.Errorf("%w: item %d stage %s not held by %s", services.ErrStoreConflict, itemID, stage, workerID)
	}

	nextRetry := state.RetryCount + 1
	nextStatus := StatusPending
	if nextRetry >= s.maxRetries {
		nextStatus = StatusDeadLetter
	}

	now := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_states
         SET status = ?, retry_count = ?, last_error = ?, error_class = ?,
             claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE item_id = ? AND stage = ? AND status = ? AND claimed_by = ?`,
		nextStatus,
		nextRetry,
		nullableString(strings.TrimSpace(errText)),
		string(errClass),
		now,
		itemID,
		string(stage),
		StatusInProgress,
		workerID,
	)
	if err != nil {
		return "", storeErr("commit failure", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", storeErr("commit failure rows affected", err)
	}
	if affected == 0 {
		return "", fmt.Errorf("%w: item %d stage %s not held by %s", services.ErrStoreConflict, itemID, stage, workerID)
	}
	return nextStatus, nil
}

// ReclaimExpiredLeases returns in_progress rows whose lease has lapsed back
// to pending so crashed workers do not strand items. Retry counters are left
// untouched; a reclaimed item was interrupted, not failed.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_states
         SET status = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		StatusPending,
		formatTime(time.Now()),
		StatusInProgress,
		formatTime(now),
	)
	if err != nil {
		return 0, storeErr("reclaim expired leases", err)
	}
	return res.RowsAffected()
}

// ResetStuck forces every in_progress row back to pending regardless of
// lease age. Operator maintenance for a known-dead deployment; normal
// recovery goes through ReclaimExpiredLeases.
func (s *Store) ResetStuck(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_states
         SET status = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusPending,
		formatTime(time.Now()),
		StatusInProgress,
	)
	if err != nil {
		return 0, storeErr("reset stuck claims", err)
	}
	return res.RowsAffected()
}

// Reprocess is the explicit out-of-band request that re-opens a stage: the
// stage row returns to pending with a fresh retry budget, and every
// downstream stage is reset as well since its inputs are about to change.
// This is the only path that reverts a complete stage.
func (s *Store) Reprocess(ctx context.Context, itemID int64, stage pipeline.Stage) error {
	ctx = ensureContext(ctx)
	if !s.pipe.Contains(stage) {
		return fmt.Errorf("unknown stage %q", stage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin reprocess tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	stages := append([]pipeline.Stage{stage}, s.pipe.Downstream(stage)...)
	for _, target := range stages {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE stage_states
             SET status = ?, result_json = NULL, retry_count = 0, last_error = NULL,
                 error_class = NULL, claimed_by = NULL, claimed_at = NULL,
                 lease_expires_at = NULL, completed_at = NULL, updated_at = ?
             WHERE item_id = ? AND stage = ?`,
			StatusPending,
			now,
			itemID,
			string(target),
		)
		if err != nil {
			return storeErr("reprocess stage", err)
		}
		if target == stage {
			affected, err := res.RowsAffected()
			if err != nil {
				return storeErr("reprocess rows affected", err)
			}
			if affected == 0 {
				return fmt.Errorf("%w: item %d stage %s", ErrNotFound, itemID, stage)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit reprocess", err)
	}
	return nil
}
