package backlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"loom/internal/pipeline"
)

// Enqueue creates a work item with one pending stage row per pipeline stage.
// Item creation is the only write external collaborators perform; everything
// after this goes through claim and commit.
func (s *Store) Enqueue(ctx context.Context, payloadRef, payload, source string) (*Item, error) {
	ctx = ensureContext(ctx)
	payloadRef = strings.TrimSpace(payloadRef)
	if payloadRef == "" {
		return nil, errors.New("payload reference is required")
	}
	if strings.TrimSpace(payload) == "" {
		return nil, errors.New("payload is required")
	}

	timestamp := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin enqueue tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO work_items (payload_ref, payload, source, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		payloadRef,
		payload,
		nullableString(strings.TrimSpace(source)),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, storeErr("insert item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("last insert id", err)
	}

	for _, stage := range s.pipe.Stages() {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO stage_states (item_id, stage, status, updated_at) VALUES (?, ?, ?, ?)`,
			id,
			string(stage),
			StatusPending,
			timestamp,
		); err != nil {
			return nil, storeErr("insert stage state", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit enqueue", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem fetches a work item by identifier. Returns nil when absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get item", err)
	}
	return item, nil
}

// GetView fetches an item together with all of its stage states.
func (s *Store) GetView(ctx context.Context, id int64) (*ItemView, error) {
	ctx = ensureContext(ctx)
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+stageColumns+` FROM stage_states WHERE item_id = ?`, id)
	if err != nil {
		return nil, storeErr("query stage states", err)
	}
	defer rows.Close()

	view := &ItemView{Item: *item, Stages: make(map[pipeline.Stage]StageState)}
	for rows.Next() {
		state, err := scanStageState(rows)
		if err != nil {
			return nil, storeErr("scan stage state", err)
		}
		view.Stages[state.Stage] = *state
	}
	return view, rows.Err()
}

// StageState fetches one stage row of an item.
func (s *Store) StageState(ctx context.Context, id int64, stage pipeline.Stage) (*StageState, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stageColumns+` FROM stage_states WHERE item_id = ? AND stage = ?`,
		id,
		string(stage),
	)
	state, err := scanStageState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %d stage %s", ErrNotFound, id, stage)
	}
	if err != nil {
		return nil, storeErr("get stage state", err)
	}
	return state, nil
}

// StageResults returns the completed stage outputs of an item, keyed by
// stage. Workers feed these to downstream processors as upstream input.
func (s *Store) StageResults(ctx context.Context, id int64) (map[pipeline.Stage]json.RawMessage, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage, result_json FROM stage_states WHERE item_id = ? AND status = ? AND result_json IS NOT NULL`,
		id,
		StatusComplete,
	)
	if err != nil {
		return nil, storeErr("query stage results", err)
	}
	defer rows.Close()

	results := make(map[pipeline.Stage]json.RawMessage)
	for rows.Next() {
		var stage, result string
		if err := rows.Scan(&stage, &result); err != nil {
			return nil, storeErr("scan stage result", err)
		}
		results[pipeline.Stage(stage)] = json.RawMessage(result)
	}
	return results, rows.Err()
}

// List returns work items ordered by creation, oldest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + itemColumns + ` FROM work_items ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list items", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("scan item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
