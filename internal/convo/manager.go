package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/task"
	"github.com/kalenko/taskpilot/internal/verify"
)

// DefaultMaxAge is how long an unresolved conversation survives before
// garbage collection.
const DefaultMaxAge = 30 * 24 * time.Hour

// ErrNotFound is returned when a conversation id has no record in the store.
var ErrNotFound = errors.New("conversation not found")

// ReplyParser turns a clarification reply into per-task outcomes.
type ReplyParser interface {
	Parse(ctx context.Context, reply string, pending []task.Record) verify.Result
}

// TaskPersister files a task record into the user's external collection.
// Idempotency is not guaranteed by the external store.
type TaskPersister interface {
	Persist(ctx context.Context, collectionID string, t task.Record) error
}

// Notifier sends the user-facing emails the lifecycle produces.
type Notifier interface {
	SendConfirmation(ctx context.Context, to string, tasks []task.Record) error
	SendContextRequest(ctx context.Context, to string, pending []task.Record, conversationID string, readyCount int) error
}

// MergeOutcome classifies what a reply did to a conversation.
type MergeOutcome string

const (
	MergeComplete MergeOutcome = "complete"
	MergePartial  MergeOutcome = "partial"
	MergeFailed   MergeOutcome = "failed"
)

// MergeResult reports the effect of merging one reply.
type MergeResult struct {
	Outcome   MergeOutcome
	Persisted int // tasks filed to the external store during this merge
	Remaining int // tasks still awaiting context
}

// Manager owns the lifecycle of pending conversations: creation, reply
// merging, and expiry. Callers pass in the state loaded for the current
// pass; the manager persists every mutation before returning so a crash
// between messages loses at most the message in flight.
type Manager struct {
	store  state.Store
	parser ReplyParser
	tasks  TaskPersister
	notify Notifier
	maxAge time.Duration
	now    func() time.Time
}

// NewManager wires a Manager from its collaborators.
func NewManager(store state.Store, parser ReplyParser, tasks TaskPersister, notify Notifier) *Manager {
	return &Manager{
		store:  store,
		parser: parser,
		tasks:  tasks,
		notify: notify,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
}

// CreateParams carries everything needed to open a conversation.
type CreateParams struct {
	UserEmail          string
	ReadyTasks         []task.Record
	ContextNeededTasks []task.Record
	OriginalEmailID    string
	UserDatabaseID     string

	// ReadyTasksProcessed marks that the caller already filed the ready
	// tasks, so reply merging must not file them a second time.
	ReadyTasksProcessed bool
}

// Create opens a new conversation and persists it immediately (not batched),
// so a crash right after the clarification email goes out cannot silently
// lose the exchange. Returns the new conversation id.
func (m *Manager) Create(st *state.State, p CreateParams) (string, error) {
	id := uuid.New().String()
	st.PendingConversations[id] = &state.PendingConversation{
		ID:                  id,
		UserEmail:           p.UserEmail,
		ReadyTasks:          p.ReadyTasks,
		ContextNeededTasks:  p.ContextNeededTasks,
		OriginalEmailID:     p.OriginalEmailID,
		UserDatabaseID:      p.UserDatabaseID,
		CreatedAt:           m.now(),
		ReadyTasksProcessed: p.ReadyTasksProcessed,
	}
	if !m.store.Save(st) {
		delete(st.PendingConversations, id)
		return "", fmt.Errorf("persisting new conversation for %s", p.UserEmail)
	}
	slog.Info("stored pending conversation", "conversation_id", id, "user", p.UserEmail,
		"context_needed", len(p.ContextNeededTasks))
	return id, nil
}

// MergeReply folds a clarification reply into the identified conversation.
//
// A complete resolution files every ready and clarified task, registers
// eligible tasks for completion reminders, confirms to the user, and deletes
// the conversation. A partial resolution files what was clarified, shrinks
// the conversation to the still-ambiguous tasks, and asks again about only
// those. A failed parse mutates nothing; the reminder scheduler will re-ask.
func (m *Manager) MergeReply(ctx context.Context, st *state.State, conversationID, reply string) (MergeResult, error) {
	c, ok := st.PendingConversations[conversationID]
	if !ok {
		return MergeResult{Outcome: MergeFailed}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}

	res := m.parser.Parse(ctx, reply, c.ContextNeededTasks)

	switch res.Status {
	case verify.StatusComplete:
		all := append(append([]task.Record{}, c.ReadyTasks...), res.Updated...)
		toFile := res.Updated
		if !c.ReadyTasksProcessed {
			toFile = all
		}
		persisted := m.persistAll(ctx, st, c, toFile, true)

		if err := m.notify.SendConfirmation(ctx, c.UserEmail, all); err != nil {
			slog.Warn("sending confirmation email failed", "conversation_id", conversationID, "error", err)
		}

		delete(st.PendingConversations, conversationID)
		if !m.store.Save(st) {
			slog.Error("state save failed after completing conversation", "conversation_id", conversationID)
		}
		slog.Info("conversation complete", "conversation_id", conversationID, "tasks_persisted", persisted)
		return MergeResult{Outcome: MergeComplete, Persisted: persisted}, nil

	case verify.StatusPartial:
		toFile := res.Updated
		if !c.ReadyTasksProcessed {
			toFile = append(append([]task.Record{}, c.ReadyTasks...), res.Updated...)
		}
		persisted := m.persistAll(ctx, st, c, toFile, false)

		c.ReadyTasks = nil
		c.ReadyTasksProcessed = true
		c.ContextNeededTasks = res.StillPending

		if err := m.notify.SendContextRequest(ctx, c.UserEmail, res.StillPending, conversationID, persisted); err != nil {
			slog.Warn("sending follow-up context request failed", "conversation_id", conversationID, "error", err)
		}

		if !m.store.Save(st) {
			slog.Error("state save failed after partial merge", "conversation_id", conversationID)
		}
		slog.Info("conversation partially resolved", "conversation_id", conversationID,
			"tasks_persisted", persisted, "still_pending", len(res.StillPending))
		return MergeResult{Outcome: MergePartial, Persisted: persisted, Remaining: len(res.StillPending)}, nil

	default:
		slog.Warn("reply not understood, conversation unchanged",
			"conversation_id", conversationID, "detail", res.Message)
		return MergeResult{Outcome: MergeFailed, Remaining: len(c.ContextNeededTasks)}, nil
	}
}

// persistAll files each task, logging and skipping failures so one bad
// record cannot block its siblings. When track is set, successfully filed
// tasks that qualify are registered for completion reminders.
func (m *Manager) persistAll(ctx context.Context, st *state.State, c *state.PendingConversation, tasks []task.Record, track bool) int {
	persisted := 0
	for _, t := range tasks {
		if err := m.tasks.Persist(ctx, c.UserDatabaseID, t); err != nil {
			slog.Error("persisting task failed", "task", t.Task, "collection", c.UserDatabaseID, "error", err)
			continue
		}
		persisted++
		if track {
			m.TrackOutstanding(st, c.UserEmail, c.UserDatabaseID, t)
		}
	}
	return persisted
}

// TrackOutstanding registers a filed task for completion reminders keyed by
// its deterministic tracking id. Re-tracking the same logical task replaces
// the entry, restarting its reminder clock. Tasks already finished are
// ignored. The caller is responsible for saving state.
func (m *Manager) TrackOutstanding(st *state.State, userEmail, databaseID string, t task.Record) string {
	if !task.ShouldTrack(t) {
		return ""
	}
	id := task.TrackingID(databaseID, t)
	st.OutstandingTasks[id] = &state.OutstandingTask{
		ID:             id,
		UserEmail:      userEmail,
		TaskData:       t,
		UserDatabaseID: databaseID,
		CreatedAt:      m.now(),
		Status:         state.TaskPending,
	}
	slog.Info("tracking outstanding task", "task_id", id, "user", userEmail)
	return id
}

// Remove deletes a conversation and persists the deletion.
func (m *Manager) Remove(st *state.State, conversationID string) bool {
	if _, ok := st.PendingConversations[conversationID]; !ok {
		return false
	}
	delete(st.PendingConversations, conversationID)
	if !m.store.Save(st) {
		slog.Error("state save failed after removing conversation", "conversation_id", conversationID)
	}
	slog.Info("removed pending conversation", "conversation_id", conversationID)
	return true
}

// CleanupExpired garbage-collects conversations older than the retention
// window regardless of resolution state. A conversation exactly at the
// boundary is retained. State is saved once at the end, not per deletion.
func (m *Manager) CleanupExpired(st *state.State) int {
	cutoff := m.now().Add(-m.maxAge)

	removed := 0
	for id, c := range st.PendingConversations {
		if c.CreatedAt.Before(cutoff) {
			delete(st.PendingConversations, id)
			slog.Info("cleaned up expired conversation", "conversation_id", id, "created_at", c.CreatedAt)
			removed++
		}
	}
	if removed > 0 {
		if !m.store.Save(st) {
			slog.Error("state save failed after cleanup")
		}
	}
	return removed
}
