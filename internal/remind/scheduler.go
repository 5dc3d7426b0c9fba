// Package remind scans pending conversations and outstanding tasks and sends
// escalating reminder emails for anything that has gone quiet.
package remind

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalenko/taskpilot/internal/convo"
	"github.com/kalenko/taskpilot/internal/mail"
	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/task"
	"github.com/kalenko/taskpilot/internal/verify"
)

// Reminder intervals. Context reminders nudge an unanswered clarification
// request daily; task reminders start at three days and back off to weekly
// once two reminders have gone out.
const (
	ContextInterval       = 24 * time.Hour
	TaskInterval          = 72 * time.Hour
	EscalatedTaskInterval = 168 * time.Hour
)

// Level is the escalation tone of a reminder, derived from how many
// reminders have already been sent.
type Level string

const (
	LevelGentle    Level = "GENTLE"
	LevelImportant Level = "IMPORTANT"
	LevelUrgent    Level = "URGENT"
)

// LevelFor maps a reminder count to its escalation level.
func LevelFor(reminderCount int) Level {
	switch {
	case reminderCount >= 3:
		return LevelUrgent
	case reminderCount == 2:
		return LevelImportant
	default:
		return LevelGentle
	}
}

// taskInterval returns the required gap before the next reminder for a task
// that has already received reminderCount reminders.
func taskInterval(reminderCount int) time.Duration {
	if reminderCount >= 2 {
		return EscalatedTaskInterval
	}
	return TaskInterval
}

// TaskFetcher reads a user's current tasks from the external document store.
type TaskFetcher interface {
	FetchTasks(ctx context.Context, collectionID string) ([]task.Record, error)
}

// Scheduler runs the periodic reminder scans against loaded state.
type Scheduler struct {
	store   state.Store
	sender  mail.Sender
	convos  *convo.Manager
	fetcher TaskFetcher
	now     func() time.Time
}

// NewScheduler wires a Scheduler from its collaborators.
func NewScheduler(store state.Store, sender mail.Sender, convos *convo.Manager, fetcher TaskFetcher) *Scheduler {
	return &Scheduler{
		store:   store,
		sender:  sender,
		convos:  convos,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// Run executes one scheduler invocation. The order is fixed: context
// reminders, conversation cleanup, task reminders, then the external-store
// sync. Task reminders therefore see sync results one cycle late, which is
// tolerable staleness.
func (s *Scheduler) Run(ctx context.Context, st *state.State) {
	s.SendContextReminders(ctx, st)
	s.convos.CleanupExpired(st)
	s.SendTaskReminders(ctx, st)
	s.SyncOutstandingTasks(ctx, st)
}

// SendContextReminders nudges every conversation whose clarification request
// has gone unanswered for the context interval, re-rendering the questions
// for the tasks still pending. State is saved once after the scan.
func (s *Scheduler) SendContextReminders(ctx context.Context, st *state.State) int {
	now := s.now()

	sent := 0
	for id, c := range st.PendingConversations {
		anchor := c.CreatedAt
		if c.LastReminderSent != nil {
			anchor = *c.LastReminderSent
		}
		if now.Sub(anchor) < ContextInterval {
			continue
		}

		count := c.ReminderCount + 1
		questions := verify.Questions(c.ContextNeededTasks)
		email := mail.ContextReminder(questions, len(c.ContextNeededTasks), id, count)

		if err := s.sender.Send(ctx, c.UserEmail, email.Subject, email.Text, email.HTML); err != nil {
			slog.Warn("sending context reminder failed", "conversation_id", id, "error", err)
			continue
		}

		ts := now
		c.LastReminderSent = &ts
		c.ReminderCount = count
		sent++
		slog.Info("sent context reminder", "conversation_id", id, "reminder_count", count)
	}

	if sent > 0 && !s.store.Save(st) {
		slog.Error("state save failed after context reminders")
	}
	return sent
}

// dueTask pairs an outstanding task with the reminder number it is about to
// receive.
type dueTask struct {
	entry  *state.OutstandingTask
	number int
}

// SendTaskReminders finds every pending outstanding task whose reminder is
// due and sends one consolidated email per user, with tasks grouped by
// escalation level. Bookkeeping for all included tasks is updated on
// successful send and state is saved once at the end.
func (s *Scheduler) SendTaskReminders(ctx context.Context, st *state.State) int {
	now := s.now()

	groups := make(map[string]*mail.ReminderGroups)
	included := make(map[string][]dueTask)
	for _, t := range st.OutstandingTasks {
		if t.Status != state.TaskPending {
			continue
		}
		anchor := t.CreatedAt
		if t.LastReminderSent != nil {
			anchor = *t.LastReminderSent
		}
		if now.Sub(anchor) < taskInterval(t.ReminderCount) {
			continue
		}

		g, ok := groups[t.UserEmail]
		if !ok {
			g = &mail.ReminderGroups{}
			groups[t.UserEmail] = g
		}
		// The level reflects the reminder about to go out, so a task on its
		// third reminder already reads as urgent.
		item := mail.ReminderItem{Task: t.TaskData, ReminderNumber: t.ReminderCount + 1}
		switch LevelFor(t.ReminderCount + 1) {
		case LevelUrgent:
			g.Urgent = append(g.Urgent, item)
		case LevelImportant:
			g.Important = append(g.Important, item)
		default:
			g.Gentle = append(g.Gentle, item)
		}
		included[t.UserEmail] = append(included[t.UserEmail], dueTask{entry: t, number: t.ReminderCount + 1})
	}

	sent := 0
	for userEmail, g := range groups {
		email := mail.ConsolidatedReminder(*g)
		if err := s.sender.Send(ctx, userEmail, email.Subject, email.Text, email.HTML); err != nil {
			slog.Warn("sending consolidated task reminder failed", "user", userEmail, "error", err)
			continue
		}
		for _, due := range included[userEmail] {
			ts := now
			due.entry.LastReminderSent = &ts
			due.entry.ReminderCount = due.number
		}
		sent++
		slog.Info("sent consolidated task reminder", "user", userEmail, "tasks", g.Total())
	}

	if sent > 0 && !s.store.Save(st) {
		slog.Error("state save failed after task reminders")
	}
	return sent
}

// SyncOutstandingTasks reconciles tracked tasks against the external store:
// a tracked task whose external record is gone or finished stops getting
// reminders. Fetch failures skip that user's collection until the next run.
func (s *Scheduler) SyncOutstandingTasks(ctx context.Context, st *state.State) int {
	type key struct{ email, database string }
	byCollection := make(map[key][]string)
	for id, t := range st.OutstandingTasks {
		k := key{email: t.UserEmail, database: t.UserDatabaseID}
		byCollection[k] = append(byCollection[k], id)
	}

	removed := 0
	for k, ids := range byCollection {
		external, err := s.fetcher.FetchTasks(ctx, k.database)
		if err != nil {
			slog.Warn("fetching external tasks for sync failed", "collection", k.database, "error", err)
			continue
		}

		statusByID := make(map[string]string, len(external))
		for _, rec := range external {
			statusByID[task.TrackingID(k.database, rec)] = rec.Status
		}

		for _, id := range ids {
			extStatus, exists := statusByID[id]
			if exists && !isFinished(extStatus) {
				continue
			}
			delete(st.OutstandingTasks, id)
			removed++
			slog.Info("untracked outstanding task", "task_id", id, "present_externally", exists)
		}
	}

	if removed > 0 && !s.store.Save(st) {
		slog.Error("state save failed after outstanding task sync")
	}
	return removed
}

func isFinished(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "done":
		return true
	}
	return false
}
