package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalenko/taskpilot/internal/llm"
	"github.com/kalenko/taskpilot/internal/task"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (m *mockChatter) Chat(_ context.Context, messages []llm.Message, _ *llm.Schema) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, messages[len(messages)-1].Content)
	if m.err != nil {
		return "", m.err
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

var meta = EmailMeta{Sender: "Dana Smith", Date: "2026-09-01", Subject: "Weekly update"}

func TestExtract_SingleChunk(t *testing.T) {
	mock := &mockChatter{responses: []string{
		`[{"task":"Deployed the staging environment","status":"Completed","employee":"Dana Smith","date":"2026-08-29","category":"Platform"}]`,
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "Deployed the staging environment yesterday.")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Extract() returned %d tasks, want 1", len(got))
	}
	if got[0].Task != "Deployed the staging environment" || got[0].Category != "Platform" {
		t.Errorf("task = %+v", got[0])
	}
	if mock.calls != 1 {
		t.Errorf("chat calls = %d, want 1", mock.calls)
	}
}

func TestExtract_MetadataFallbacks(t *testing.T) {
	mock := &mockChatter{responses: []string{
		`[{"task":"Reviewed the Q1 budget","status":"Completed","employee":"Unknown","date":"","category":""}]`,
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "Reviewed the Q1 budget.")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got[0].Employee != "Dana Smith" {
		t.Errorf("employee = %q, want sender fallback", got[0].Employee)
	}
	if got[0].Date != "2026-09-01" {
		t.Errorf("date = %q, want email date fallback", got[0].Date)
	}
	if got[0].Category != task.DefaultCategory {
		t.Errorf("category = %q, want %q", got[0].Category, task.DefaultCategory)
	}
}

func TestExtract_DateNormalization(t *testing.T) {
	mock := &mockChatter{responses: []string{
		`[{"task":"Shipped the release","status":"Completed","employee":"Dana","date":"August 29, 2026","category":"Platform"}]`,
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "Shipped the release.")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got[0].Date != "2026-08-29" {
		t.Errorf("date = %q, want normalized 2026-08-29", got[0].Date)
	}
}

func TestExtract_DropsTooShortTasks(t *testing.T) {
	mock := &mockChatter{responses: []string{
		`[{"task":"ok","status":"Completed","employee":"Dana","date":"2026-09-01","category":"X"},
		  {"task":"Fixed the login redirect","status":"Completed","employee":"Dana","date":"2026-09-01","category":"X"}]`,
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "Some update.")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 1 || got[0].Task != "Fixed the login redirect" {
		t.Errorf("tasks = %v, want only the real task", got)
	}
}

func TestExtract_FencedResponse(t *testing.T) {
	mock := &mockChatter{responses: []string{
		"```json\n[{\"task\":\"Fixed the login redirect\",\"status\":\"Completed\",\"employee\":\"Dana\",\"date\":\"2026-09-01\",\"category\":\"X\"}]\n```",
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "Some update.")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Extract() returned %d tasks, want 1", len(got))
	}
}

func TestExtract_ChatErrorPropagates(t *testing.T) {
	mock := &mockChatter{err: errors.New("provider down")}
	e := NewExtractor(mock)

	if _, err := e.Extract(context.Background(), meta, "Some update."); err == nil {
		t.Fatal("Extract() expected error when chat fails")
	}
}

func TestExtract_MalformedResponseErrors(t *testing.T) {
	mock := &mockChatter{responses: []string{"sorry, I cannot help with that"}}
	e := NewExtractor(mock)

	if _, err := e.Extract(context.Background(), meta, "Some update."); err == nil {
		t.Fatal("Extract() expected error on non-JSON response")
	}
}

func TestExtract_TooShortInput(t *testing.T) {
	mock := &mockChatter{}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, "  a ")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got != nil || mock.calls != 0 {
		t.Errorf("tasks = %v calls = %d, want no extraction for trivial input", got, mock.calls)
	}
}

func TestExtract_MultipleChunksAggregated(t *testing.T) {
	body := "Platform Work:\n- Deployed staging\n\nBudget Items:\n- Reviewed Q1 numbers"
	mock := &mockChatter{responses: []string{
		`[{"task":"Deployed the staging environment","status":"Completed","employee":"Dana","date":"2026-09-01","category":"Platform"}]`,
		`[{"task":"Reviewed the Q1 budget","status":"Completed","employee":"Dana","date":"2026-09-01","category":"Budget"}]`,
	}}
	e := NewExtractor(mock)

	got, err := e.Extract(context.Background(), meta, body)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if mock.calls != 2 {
		t.Fatalf("chat calls = %d, want one per chunk", mock.calls)
	}
	if len(got) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got))
	}
	for _, p := range mock.prompts {
		if !strings.Contains(p, "From: Dana Smith") || !strings.Contains(p, "Subject: Weekly update") {
			t.Errorf("prompt missing envelope metadata:\n%s", p)
		}
	}
}
