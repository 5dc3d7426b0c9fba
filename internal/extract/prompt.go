package extract

import (
	"fmt"

	"github.com/kalenko/taskpilot/internal/llm"
)

const extractionPrompt = `You are a task extraction engine for work logs and status emails. Your output must be ONLY a single valid JSON array of task objects conforming to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Extract only actionable tasks. Ignore greetings, signatures, email headers, and hour totals.
- Attribute each task to the person who performed it, which may differ from the email sender. Look for "From:" lines, signatures, and section authorship in forwarded threads.
- Prefer "Completed Activities" sections; fall back to "Planned Activities" only when no completed counterpart exists. A task appearing in both sections becomes a single entry.
- Status is exactly one of "Completed", "In Progress", "Pending", "Blocked". Past-tense descriptions are "Completed"; planned work without progress is "Pending".
- Dates use YYYY-MM-DD. When a task carries no date, use the email date.
- Category is the exact project name mentioned in the task text, never a generic grouping. Use "General" when no project is named.
- Each description must be self-contained, with a clear action verb and its technical context preserved.`

// buildMessages wraps one chunk with the email's envelope metadata so the
// model can attribute tasks and fill in missing dates.
func buildMessages(meta EmailMeta, chunk string) []llm.Message {
	enriched := fmt.Sprintf("From: %s\nDate: %s\nSubject: %s\n\n%s",
		meta.Sender, meta.Date, meta.Subject, chunk)
	return []llm.Message{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: enriched},
	}
}

// taskListSchema constrains the model to an array of task objects.
func taskListSchema() *llm.Schema {
	return &llm.Schema{
		Type: "array",
		Items: &llm.Schema{
			Type: "object",
			Properties: map[string]llm.SchemaProperty{
				"task":     {Type: "string", Description: "Self-contained task description"},
				"status":   {Type: "string", Description: "One of: Completed, In Progress, Pending, Blocked"},
				"employee": {Type: "string", Description: "Person who performed the task"},
				"date":     {Type: "string", Description: "YYYY-MM-DD"},
				"category": {Type: "string", Description: "Exact project name, or General"},
			},
			Required: []string{"task", "status", "employee", "date", "category"},
		},
	}
}
