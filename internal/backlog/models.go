package backlog

import (
	"strings"
	"time"

	"loom/internal/pipeline"
)

// Status represents the lifecycle of one stage of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusDeadLetter Status = "dead_letter"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusComplete,
	StatusDeadLetter,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Item represents a unit of work persisted in SQLite. The payload reference
// and payload are opaque to the core; stage processors interpret them.
type Item struct {
	ID         int64
	PayloadRef string
	Payload    string
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StageState is the per-stage progress record of a work item.
type StageState struct {
	ItemID         int64
	Stage          pipeline.Stage
	Status         Status
	ResultJSON     string
	RetryCount     int
	LastError      string
	ErrorClass     string
	ClaimedBy      string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// LeaseExpired reports whether an in-progress claim has outlived its lease.
func (ss StageState) LeaseExpired(now time.Time) bool {
	if ss.Status != StatusInProgress || ss.LeaseExpiresAt == nil {
		return false
	}
	return ss.LeaseExpiresAt.Before(now)
}

// ItemView bundles an item with all of its stage states for presentation.
type ItemView struct {
	Item   Item
	Stages map[pipeline.Stage]StageState
}

// HealthSummary describes aggregated backlog counts across all stages.
type HealthSummary struct {
	TotalItems   int
	Claimable    int
	InProgress   int
	DeadLettered int
	StageCounts  map[pipeline.Stage]map[Status]int
}
