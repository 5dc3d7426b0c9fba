// Package verify turns free-text clarification replies back into task
// updates: generating the questions sent to the user and parsing what comes
// back.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalenko/taskpilot/internal/llm"
	"github.com/kalenko/taskpilot/internal/task"
)

const refineTimeout = 30 * time.Second

// Refiner merges a user's free-text answer into a vague task using an LLM.
type Refiner struct {
	client llm.Chatter
}

// NewRefiner creates a Refiner backed by the given chat client.
func NewRefiner(client llm.Chatter) *Refiner {
	return &Refiner{client: client}
}

// Refine asks the model to fold the user's answer into the task. Fields the
// answer does not cover keep their original values. On any failure the
// original task is returned unchanged along with the error, so callers can
// treat an unrefinable task as still pending.
func (r *Refiner) Refine(ctx context.Context, t task.Record, answer string) (task.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, refineTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`You complete vague task records from user-provided detail.

Original task: %s
User's response: %s

Extract:
1. A clear, detailed task description.
2. The appropriate category or project name.
3. The current status (Completed, In Progress, or Pending).

If the response does not cover a field, reuse the original task's value.
Reply with JSON: {"description": "...", "category": "...", "status": "..."}`, t.Task, answer)

	raw, err := r.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, refineSchema())
	if err != nil {
		slog.Warn("task refinement chat failed", "task", t.Task, "error", err)
		return t, err
	}

	doc := llm.ExtractJSON(raw)
	if doc == "" {
		slog.Warn("task refinement returned no parsable JSON", "task", t.Task, "response", raw)
		return t, fmt.Errorf("no JSON in refinement response")
	}

	updated := t
	if v := llm.Field(doc, "description"); v != "" {
		updated.Task = v
		updated.NeedsDescription = false
	}
	if v := llm.Field(doc, "category"); v != "" {
		updated.Category = v
		updated.NeedsCategory = false
	}
	if v := llm.Field(doc, "status"); v != "" {
		updated.Status = v
		updated.NeedsStatus = false
	}
	updated.Notes = ""
	return updated, nil
}

func refineSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"description": {Type: "string", Description: "Detailed task description"},
			"category":    {Type: "string", Description: "Project or category name"},
			"status":      {Type: "string", Description: "Completed, In Progress, or Pending"},
		},
		Required: []string{"description", "category", "status"},
	}
}
