package task

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// minDescriptionLen is the shortest trimmed task description that can stand
// on its own without a clarification round-trip.
const minDescriptionLen = 15

// Classify partitions extracted tasks into those ready for immediate filing
// and those that need a clarification exchange first. A task lands in the
// needs-context bucket if any single rule fires; the heuristic is
// deliberately over-inclusive, because silently filing a vague task costs
// more than one extra email. Input order is preserved within each bucket.
func Classify(tasks []Record) (ready, needsContext []Record) {
	for _, t := range tasks {
		if reason := contextReason(t); reason != "" {
			slog.Info("task needs context", "task", truncate(t.Task, 50), "reason", reason)
			needsContext = append(needsContext, t)
			continue
		}
		slog.Info("task ready for processing", "task", truncate(t.Task, 50))
		ready = append(ready, t)
	}
	return ready, needsContext
}

// contextReason returns the first vagueness rule the record trips, or ""
// when the record is ready. Rules are checked in a fixed order so logs are
// stable across runs.
func contextReason(t Record) string {
	if t.NeedsDescription {
		return "needs_description flag set"
	}
	if t.Notes != "" {
		return "extraction left a pending question in notes"
	}
	if utf8.RuneCountInString(strings.TrimSpace(t.Task)) < minDescriptionLen {
		return "description too short"
	}
	if t.Category == DefaultCategory {
		return "no specific project inferred"
	}
	// Known over-trigger inherited from the source system: a legitimately
	// complete task whose status genuinely is "Not Started" gets flagged
	// too. Kept for compatibility.
	if t.Status == DefaultStatus {
		return "status is extraction default"
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
