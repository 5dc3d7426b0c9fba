// Package state owns the durable document tracking clarification
// conversations and outstanding-task reminders across process restarts.
package state

import (
	"time"

	"github.com/kalenko/taskpilot/internal/task"
)

// Version is written into the document metadata on every save.
const Version = "1.0"

// TaskStatus is the reminder-tracking status of an outstanding task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// PendingConversation is one open clarification exchange. It exists exactly
// while at least one task still needs context; a fully resolved conversation
// is deleted, never left empty.
type PendingConversation struct {
	ID                 string        `json:"conversation_id"`
	UserEmail          string        `json:"user_email"`
	ReadyTasks         []task.Record `json:"ready_tasks"`
	ContextNeededTasks []task.Record `json:"context_needed_tasks"`
	OriginalEmailID    string        `json:"original_email_id"`
	UserDatabaseID     string        `json:"user_database_id"`
	CreatedAt          time.Time     `json:"created_at"`
	LastReminderSent   *time.Time    `json:"last_reminder_sent"`
	ReminderCount      int           `json:"reminder_count"`

	ReadyTasksProcessed   bool `json:"ready_tasks_processed"`
	ContextTasksProcessed bool `json:"context_tasks_processed"`
}

// OutstandingTask is a persisted, not-yet-finished task tracked purely so
// completion reminders can be escalated over time.
type OutstandingTask struct {
	ID               string      `json:"task_id"`
	UserEmail        string      `json:"user_email"`
	TaskData         task.Record `json:"task_data"`
	UserDatabaseID   string      `json:"user_database_id"`
	CreatedAt        time.Time   `json:"created_at"`
	LastReminderSent *time.Time  `json:"last_reminder_sent"`
	ReminderCount    int         `json:"reminder_count"`
	Status           TaskStatus  `json:"status"`
}

// Metadata describes the persisted document itself.
type Metadata struct {
	LastSave time.Time `json:"last_save"`
	Version  string    `json:"version"`
}

// State is the full persisted document. It is owned by whichever pass loaded
// it; the process is single-threaded per pass, so no locking (see the
// concurrency notes in the file store).
type State struct {
	PendingConversations map[string]*PendingConversation `json:"pending_context_conversations"`
	OutstandingTasks     map[string]*OutstandingTask     `json:"outstanding_tasks"`
	Metadata             Metadata                        `json:"metadata"`
}

// New returns an empty, usable state document.
func New() *State {
	return &State{
		PendingConversations: make(map[string]*PendingConversation),
		OutstandingTasks:     make(map[string]*OutstandingTask),
		Metadata:             Metadata{Version: Version},
	}
}

// normalize repairs nil maps after unmarshaling a document that omitted a
// top-level key.
func (s *State) normalize() {
	if s.PendingConversations == nil {
		s.PendingConversations = make(map[string]*PendingConversation)
	}
	if s.OutstandingTasks == nil {
		s.OutstandingTasks = make(map[string]*OutstandingTask)
	}
}

// MostRecentConversationFor returns the newest unresolved conversation owned
// by the given sender, or nil. Ties break toward the latest created_at.
func (s *State) MostRecentConversationFor(userEmail string) *PendingConversation {
	var best *PendingConversation
	for _, c := range s.PendingConversations {
		if c.UserEmail != userEmail || c.ContextTasksProcessed {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	return best
}

// AnyUnresolvedConversationFor returns any unresolved conversation for the
// sender. Last-resort correlation fallback for replies that carry neither an
// identifier nor a recognizable reply subject.
func (s *State) AnyUnresolvedConversationFor(userEmail string) *PendingConversation {
	for _, c := range s.PendingConversations {
		if c.UserEmail == userEmail && !c.ContextTasksProcessed {
			return c
		}
	}
	return nil
}
