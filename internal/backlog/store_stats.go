package backlog

import (
	"context"

	"loom/internal/pipeline"
)

// PendingCounts reports, per stage, how many items are claimable right now:
// the stage row is pending and every upstream stage is complete. Coordinators
// use this to pick which stage to drain next and runners use it to detect an
// empty backlog. Stages absent from the map have nothing ready.
func (s *Store) PendingCounts(ctx context.Context) (map[pipeline.Stage]int, error) {
	ctx = ensureContext(ctx)
	counts := make(map[pipeline.Stage]int)
	for _, stage := range s.pipe.Stages() {
		query := `SELECT COUNT(*) FROM stage_states ss WHERE ss.stage = ? AND ss.status = ?`
		args := []any{string(stage), StatusPending}

		upstreams := s.pipe.Upstream(stage)
		if len(upstreams) > 0 {
			query += ` AND NOT EXISTS (
                SELECT 1 FROM stage_states up
                WHERE up.item_id = ss.item_id
                  AND up.stage IN (` + makePlaceholders(len(upstreams)) + `)
                  AND up.status != ?)`
			for _, up := range upstreams {
				args = append(args, string(up))
			}
			args = append(args, StatusComplete)
		}

		var count int
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return nil, storeErr("count pending", err)
		}
		if count > 0 {
			counts[stage] = count
		}
	}
	return counts, nil
}

// StatusCounts aggregates stage rows by (stage, status).
func (s *Store) StatusCounts(ctx context.Context) (map[pipeline.Stage]map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, status, COUNT(*) FROM stage_states GROUP BY stage, status`,
	)
	if err != nil {
		return nil, storeErr("count statuses", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.Stage]map[Status]int)
	for rows.Next() {
		var stageName, statusName string
		var count int
		if err := rows.Scan(&stageName, &statusName, &count); err != nil {
			return nil, storeErr("scan status counts", err)
		}
		stage := pipeline.Stage(stageName)
		status, ok := ParseStatus(statusName)
		if !ok {
			continue
		}
		if counts[stage] == nil {
			counts[stage] = make(map[Status]int)
		}
		counts[stage][status] = count
	}
	return counts, rows.Err()
}

// DeadLetterStates returns every dead-lettered stage row with its stored
// error, oldest item first, for operator review and reprocess decisions.
func (s *Store) DeadLetterStates(ctx context.Context) ([]*StageState, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_states WHERE status = ? ORDER BY item_id, stage`,
		StatusDeadLetter,
	)
	if err != nil {
		return nil, storeErr("list dead letters", err)
	}
	defer rows.Close()

	var states []*StageState
	for rows.Next() {
		state, err := scanStageState(rows)
		if err != nil {
			return nil, storeErr("scan dead letter", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Health summarizes the backlog for status reporting: total items, per-stage
// status counts, and how many leases are currently held.
func (s *Store) Health(ctx context.Context) (*HealthSummary, error) {
	ctx = ensureContext(ctx)

	summary := &HealthSummary{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items`).Scan(&summary.TotalItems); err != nil {
		return nil, storeErr("count items", err)
	}

	counts, err := s.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	summary.StageCounts = counts
	for _, byStatus := range counts {
		summary.InProgress += byStatus[StatusInProgress]
		summary.DeadLettered += byStatus[StatusDeadLetter]
	}

	pending, err := s.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, count := range pending {
		summary.Claimable += count
	}
	return summary, nil
}
