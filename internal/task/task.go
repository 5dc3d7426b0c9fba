package task

import "strings"

// Default field values applied by extraction when the source text carries no
// explicit signal. The classifier treats both as vagueness indicators.
const (
	DefaultStatus   = "Not Started"
	DefaultCategory = "General"
)

// Record is a single extracted task. Every field consumed by the classifier
// has a documented default so heuristics never trip on missing data: Status
// defaults to DefaultStatus and Category to DefaultCategory when extraction
// cannot infer them; everything else defaults to empty.
type Record struct {
	Task     string `json:"task"`
	Title    string `json:"title,omitempty"`
	Status   string `json:"status"`
	Employee string `json:"employee"`
	Category string `json:"category"`
	Date     string `json:"date"`

	// Notes carries a clarifying question suggested by extraction. A
	// non-empty value marks the record as needing context.
	Notes string `json:"notes,omitempty"`

	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"`

	// Vagueness flags set by extraction or by the verification parser.
	NeedsDescription bool `json:"needs_description,omitempty"`
	NeedsCategory    bool `json:"needs_category,omitempty"`
	NeedsStatus      bool `json:"needs_status,omitempty"`

	// SuggestedQuestion is the extraction-proposed clarifying question used
	// when rendering a context request.
	SuggestedQuestion string `json:"suggested_question,omitempty"`
}

// DisplayTitle returns the best human-facing label for the record.
func (r Record) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Task != "" {
		return r.Task
	}
	return "Untitled Task"
}

// ShouldTrack reports whether a persisted task should be tracked for
// completion reminders. Tasks already finished are never tracked; unknown
// statuses are not tracked either (conservative: a reminder for a task we
// cannot reason about is worse than no reminder).
func ShouldTrack(r Record) bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "completed", "cancelled", "done":
		return false
	case "not started", "in progress", "pending", "on hold":
		return true
	}
	return r.DueDate != ""
}
