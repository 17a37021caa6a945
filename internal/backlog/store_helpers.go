package backlog

import (
	"database/sql"
	"errors"
	"time"

	"loom/internal/pipeline"
)

const itemColumns = "id, payload_ref, payload, source, created_at, updated_at"

const stageColumns = "item_id, stage, status, result_json, retry_count, last_error, error_class, claimed_by, claimed_at, lease_expires_at, completed_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id         int64
		payloadRef string
		payload    string
		source     sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)

	if err := scanner.Scan(&id, &payloadRef, &payload, &source, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	item := &Item{
		ID:         id,
		PayloadRef: payloadRef,
		Payload:    payload,
		Source:     source.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func scanStageState(scanner interface{ Scan(dest ...any) error }) (*StageState, error) {
	var (
		itemID       int64
		stage        string
		statusStr    string
		resultJSON   sql.NullString
		retryCount   int
		lastError    sql.NullString
		errorClass   sql.NullString
		claimedBy    sql.NullString
		claimedRaw   sql.NullString
		leaseRaw     sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&itemID,
		&stage,
		&statusStr,
		&resultJSON,
		&retryCount,
		&lastError,
		&errorClass,
		&claimedBy,
		&claimedRaw,
		&leaseRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	state := &StageState{
		ItemID:     itemID,
		Stage:      pipeline.Stage(stage),
		Status:     Status(statusStr),
		ResultJSON: resultJSON.String,
		RetryCount: retryCount,
		LastError:  lastError.String,
		ErrorClass: errorClass.String,
		ClaimedBy:  claimedBy.String,
	}
	state.ClaimedAt = parseNullableTime(claimedRaw)
	state.LeaseExpiresAt = parseNullableTime(leaseRaw)
	state.CompletedAt = parseNullableTime(completedRaw)
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		state.UpdatedAt = updated
	}
	return state, nil
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

// timeLayout is fixed width so stored timestamps compare chronologically
// under SQLite string comparison. RFC3339Nano would trim trailing fraction
// zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
