package verify

import (
	"fmt"
	"strings"

	"github.com/kalenko/taskpilot/internal/task"
)

// Questions renders the clarification prompt for a set of vague tasks. The
// wording is deliberately forgiving about reply shape: the parser accepts
// numbered answers, task-name mentions, or one free-form paragraph.
func Questions(incomplete []task.Record) string {
	var b strings.Builder
	b.WriteString("I noticed some tasks that could use a bit more detail to make them clearer. Let me ask about each one:\n\n")

	for i, t := range incomplete {
		fmt.Fprintf(&b, "Task %d: %q\n", i+1, t.Task)
		for _, q := range questionsFor(t) {
			b.WriteString("  - " + q + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("You can respond naturally, for example:\n\n")
	if len(incomplete) > 0 {
		example := incomplete[0]
		q := example.SuggestedQuestion
		if q == "" {
			q = "Here are more details..."
		}
		fmt.Fprintf(&b, "  \"For task 1: %s [your answer].\"\n\n", q)
	}
	b.WriteString("Or use a structured format if you prefer:\n")
	b.WriteString("  1. Details: [explanation], Category: [project], Status: [status]\n")
	return b.String()
}

// questionsFor lists what is still missing for one task.
func questionsFor(t task.Record) []string {
	var needs []string

	if t.NeedsDescription || t.Notes != "" {
		switch {
		case strings.TrimSpace(t.SuggestedQuestion) != "":
			needs = append(needs, t.SuggestedQuestion)
		case strings.TrimSpace(t.Notes) != "":
			needs = append(needs, t.Notes)
		case len(strings.Fields(t.Task)) <= 2:
			needs = append(needs, fmt.Sprintf("Could you provide more details about %q? What specifically was accomplished?", t.Task))
		default:
			needs = append(needs, "Could you tell me more about what this task involved? What were the specific outcomes?")
		}
	}
	if t.NeedsCategory || t.Category == task.DefaultCategory {
		needs = append(needs, "Which project does this belong to?")
	}
	if t.NeedsStatus {
		needs = append(needs, "What's the current status? (Completed, In Progress, or Pending)")
	}
	if len(needs) == 0 {
		needs = append(needs, "Could you tell me more about this task?")
	}
	return needs
}
