// Package api exposes the management surface of the assistant: a small
// bearer-authed HTTP API for injecting messages and inspecting state, plus
// an MCP server for tool-based access.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalenko/taskpilot/internal/archive"
	"github.com/kalenko/taskpilot/internal/assistant"
	"github.com/kalenko/taskpilot/internal/mail"
	"github.com/kalenko/taskpilot/internal/state"
)

const maxMessageBodySize = 10 << 20 // 10MB

// MessageRequest is an inbound message injected through the API. It mirrors
// the decoded mail model so callers can bridge any mail source.
type MessageRequest struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`
	Date     string `json:"date"`
}

// PassRunner abstracts the orchestrator for the API layer.
type PassRunner interface {
	RunPass(ctx context.Context) (assistant.PassReport, error)
}

type AppDeps struct {
	Store   state.Store
	Runner  PassRunner
	Archive *archive.Store // optional; if nil, archive routes return 404
	Queue   *mail.QueueInbox
	Token   string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/messages", handlePostMessage(deps))
		r.Post("/pass", handleRunPass(deps))
		r.Get("/conversations", handleListConversations(deps))
		r.Get("/outstanding-tasks", handleListOutstanding(deps))
		r.Get("/archive/recent", handleArchiveRecent(deps))
	})

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handlePostMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMessageBodySize)
		defer r.Body.Close()

		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.From == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from is required")
			return
		}
		if req.TextBody == "" && req.HTMLBody == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text_body or html_body is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if req.Date == "" {
			req.Date = time.Now().UTC().Format("2006-01-02")
		}

		deps.Queue.Add(mail.Message{
			ID:       req.ID,
			From:     req.From,
			FromName: req.FromName,
			Subject:  req.Subject,
			TextBody: req.TextBody,
			HTMLBody: req.HTMLBody,
			Date:     req.Date,
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"message_id": req.ID})
	}
}

func handleRunPass(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Runner.RunPass(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "pass failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, passReportView(report))
	}
}

// ConversationView is the API shape of a pending conversation.
type ConversationView struct {
	ID                 string     `json:"conversation_id"`
	UserEmail          string     `json:"user_email"`
	ReadyTasks         int        `json:"ready_tasks"`
	ContextNeededTasks int        `json:"context_needed_tasks"`
	CreatedAt          time.Time  `json:"created_at"`
	LastReminderSent   *time.Time `json:"last_reminder_sent,omitempty"`
	ReminderCount      int        `json:"reminder_count"`
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Store.Load()

		views := make([]ConversationView, 0, len(st.PendingConversations))
		for _, c := range st.PendingConversations {
			views = append(views, ConversationView{
				ID:                 c.ID,
				UserEmail:          c.UserEmail,
				ReadyTasks:         len(c.ReadyTasks),
				ContextNeededTasks: len(c.ContextNeededTasks),
				CreatedAt:          c.CreatedAt,
				LastReminderSent:   c.LastReminderSent,
				ReminderCount:      c.ReminderCount,
			})
		}
		sort.Slice(views, func(i, j int) bool {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		})

		writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
	}
}

// OutstandingView is the API shape of a tracked outstanding task.
type OutstandingView struct {
	ID               string     `json:"task_id"`
	UserEmail        string     `json:"user_email"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	LastReminderSent *time.Time `json:"last_reminder_sent,omitempty"`
	ReminderCount    int        `json:"reminder_count"`
}

func handleListOutstanding(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Store.Load()

		views := make([]OutstandingView, 0, len(st.OutstandingTasks))
		for _, t := range st.OutstandingTasks {
			views = append(views, OutstandingView{
				ID:               t.ID,
				UserEmail:        t.UserEmail,
				Title:            t.TaskData.DisplayTitle(),
				Status:           string(t.Status),
				CreatedAt:        t.CreatedAt,
				LastReminderSent: t.LastReminderSent,
				ReminderCount:    t.ReminderCount,
			})
		}
		sort.Slice(views, func(i, j int) bool {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		})

		writeJSON(w, http.StatusOK, map[string]any{"outstanding_tasks": views})
	}
}

func handleArchiveRecent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Archive == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "archive not configured")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := deps.Archive.Recent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "archive query failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// passReportView flattens a PassReport into a JSON-friendly shape.
func passReportView(report assistant.PassReport) map[string]any {
	results := make([]map[string]any, 0, len(report.Results))
	for _, res := range report.Results {
		item := map[string]any{
			"message_id":      res.MessageID,
			"sender":          res.Sender,
			"outcome":         string(res.Outcome),
			"marked_read":     res.MarkRead,
			"tasks_extracted": res.TasksExtracted,
		}
		if res.ConversationID != "" {
			item["conversation_id"] = res.ConversationID
		}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		}
		results = append(results, item)
	}
	return map[string]any{
		"started_at":        report.StartedAt.Format(time.RFC3339),
		"finished_at":       report.FinishedAt.Format(time.RFC3339),
		"context_reminders": report.ContextReminders,
		"task_reminders":    report.TaskReminders,
		"tasks_untracked":   report.TasksUntracked,
		"results":           results,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
