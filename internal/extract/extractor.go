package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalenko/taskpilot/internal/llm"
	"github.com/kalenko/taskpilot/internal/task"
)

// minTaskLen filters out descriptions too short to be real tasks.
const minTaskLen = 3

// Date layouts the model has been observed to emit despite the prompt.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC1123Z,
	time.RFC822Z,
}

// Chatter is the chat completion capability the extractor depends on.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// EmailMeta is the envelope context given to the model alongside each chunk.
type EmailMeta struct {
	Sender  string
	Date    string // YYYY-MM-DD, used as the fallback task date
	Subject string
}

// Extractor extracts structured task records from free-form text.
type Extractor struct {
	client Chatter
}

// NewExtractor creates an Extractor backed by the given chat client.
func NewExtractor(client Chatter) *Extractor {
	return &Extractor{client: client}
}

// Extract chunks the text and runs task extraction over each chunk,
// aggregating the results. A model or parse failure on any chunk aborts the
// whole extraction with an error; the caller decides whether to retry the
// message, so no retries happen here.
func (e *Extractor) Extract(ctx context.Context, meta EmailMeta, text string) ([]task.Record, error) {
	if len(strings.TrimSpace(text)) < minTaskLen {
		return nil, nil
	}

	chunks := Chunk(text, DefaultMaxChunkLines)
	slog.Info("extracting tasks", "chunks", len(chunks), "sender", meta.Sender)

	var tasks []task.Record
	for i, chunk := range chunks {
		raw, err := e.client.Chat(ctx, buildMessages(meta, chunk), taskListSchema())
		if err != nil {
			return nil, fmt.Errorf("extracting tasks from chunk %d/%d: %w", i+1, len(chunks), err)
		}

		content := llm.ExtractJSON(raw)
		if content == "" {
			return nil, fmt.Errorf("chunk %d/%d: no JSON in model response", i+1, len(chunks))
		}

		var parsed []task.Record
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: decoding task list: %w", i+1, len(chunks), err)
		}

		for _, t := range parsed {
			if rec, ok := e.validate(meta, t); ok {
				tasks = append(tasks, rec)
			}
		}
	}

	slog.Info("task extraction finished", "tasks", len(tasks), "sender", meta.Sender)
	return tasks, nil
}

// validate normalizes a raw record and reports whether it is worth keeping.
// Individually malformed records are dropped rather than failing the batch.
func (e *Extractor) validate(meta EmailMeta, t task.Record) (task.Record, bool) {
	t.Task = strings.TrimSpace(t.Task)
	if len(t.Task) < minTaskLen {
		slog.Debug("dropping task with too-short description", "task", t.Task)
		return t, false
	}

	if t.Employee == "" || strings.EqualFold(t.Employee, "unknown") {
		t.Employee = meta.Sender
	}
	if t.Date == "" || strings.EqualFold(t.Date, "unknown") {
		t.Date = meta.Date
	} else {
		t.Date = normalizeDate(t.Date, meta.Date)
	}
	if t.Category == "" {
		t.Category = task.DefaultCategory
	}
	return t, true
}

// normalizeDate coerces a date string to YYYY-MM-DD, falling back to the
// email date when no known layout matches.
func normalizeDate(s, fallback string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	slog.Debug("unparseable task date, using email date", "date", s)
	return fallback
}
