package enrich

import (
	"errors"
	"fmt"
	"strings"
)

// SummaryResult is the summarize stage's output schema.
type SummaryResult struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Validate enforces the summarize schema beyond JSON well-formedness.
func (r *SummaryResult) Validate() error {
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Summary == "" {
		return errors.New("summary is required")
	}
	cleaned := r.Keywords[:0]
	for _, keyword := range r.Keywords {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
			cleaned = append(cleaned, keyword)
		}
	}
	r.Keywords = cleaned
	if len(r.Keywords) == 0 {
		return errors.New("at least one keyword is required")
	}
	if len(r.Keywords) > 10 {
		r.Keywords = r.Keywords[:10]
	}
	return nil
}

// Categories the classify stage may assign.
var knownCategories = map[string]struct{}{
	"news":           {},
	"technical":      {},
	"correspondence": {},
	"legal":          {},
	"other":          {},
}

// ClassifyResult is the classify stage's output schema.
type ClassifyResult struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Validate enforces the classify schema. Confidence is clamped rather than
// rejected since providers routinely return values slightly out of range.
func (r *ClassifyResult) Validate() error {
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if r.Category == "" {
		return errors.New("category is required")
	}
	if _, ok := knownCategories[r.Category]; !ok {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// Action is a single extracted task.
type Action struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// ActionsResult is the actions stage's output schema. An empty action list
// is a valid result; many documents simply contain no tasks.
type ActionsResult struct {
	Actions []Action `json:"actions"`
}

var knownPriorities = map[string]struct{}{
	"high":   {},
	"medium": {},
	"low":    {},
}

// Validate enforces the actions schema.
func (r *ActionsResult) Validate() error {
	for i := range r.Actions {
		action := &r.Actions[i]
		action.Description = strings.TrimSpace(action.Description)
		if action.Description == "" {
			return fmt.Errorf("action %d: description is required", i)
		}
		action.Priority = strings.ToLower(strings.TrimSpace(action.Priority))
		if _, ok := knownPriorities[action.Priority]; !ok {
			return fmt.Errorf("action %d: unknown priority %q", i, action.Priority)
		}
	}
	if r.Actions == nil {
		r.Actions = []Action{}
	}
	return nil
}
