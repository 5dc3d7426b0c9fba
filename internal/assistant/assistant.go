// Package assistant is the top-level email processing loop. It ties mail
// fetch, user lookup, task extraction, classification, conversation handling,
// and reminders together, one message at a time.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalenko/taskpilot/internal/archive"
	"github.com/kalenko/taskpilot/internal/convo"
	"github.com/kalenko/taskpilot/internal/extract"
	"github.com/kalenko/taskpilot/internal/mail"
	"github.com/kalenko/taskpilot/internal/remind"
	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/task"
	"github.com/kalenko/taskpilot/internal/verify"
)

// ErrUserNotFound is returned by a UserDirectory when no registered user
// matches the sender address.
var ErrUserNotFound = errors.New("user not found")

// User is a registered sender with an external task collection.
type User struct {
	Email      string
	Name       string
	DatabaseID string
}

// UserDirectory resolves sender addresses to registered users.
type UserDirectory interface {
	LookupUser(ctx context.Context, email string) (User, error)
}

// TaskStore is the external document store holding each user's tasks.
type TaskStore interface {
	Persist(ctx context.Context, collectionID string, t task.Record) error
	FetchTasks(ctx context.Context, collectionID string) ([]task.Record, error)
}

// TaskExtractor turns free text into task records.
type TaskExtractor interface {
	Extract(ctx context.Context, meta extract.EmailMeta, text string) ([]task.Record, error)
}

// Archiver records what happened to each processed message.
type Archiver interface {
	Record(e archive.Entry) error
}

// Outcome is the terminal state a message reached.
type Outcome string

const (
	OutcomeConversationComplete Outcome = "conversation_complete"
	OutcomeConversationPartial  Outcome = "conversation_partial"
	OutcomeConversationFailed   Outcome = "conversation_failed"
	OutcomeMergeFailed          Outcome = "merge_failed"
	OutcomeUserNotFound         Outcome = "user_not_found"
	OutcomeExtractionFailed     Outcome = "extraction_failed"
	OutcomeNoTasks              Outcome = "no_tasks"
	OutcomeProcessed            Outcome = "processed"
	OutcomeClarificationSent    Outcome = "clarification_requested"
)

// Result is the outcome of processing one inbound message. MarkRead records
// the at-most-once decision: every terminal state acknowledges the message
// except a failed user lookup, which leaves it unread for the next poll.
type Result struct {
	MessageID      string
	Sender         string
	Outcome        Outcome
	MarkRead       bool
	ConversationID string
	TasksExtracted int
	Err            error
}

// PassReport summarizes one full processing pass.
type PassReport struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	ContextReminders int
	TaskReminders    int
	TasksUntracked   int
	Results          []Result
}

// Assistant orchestrates one processing pass at a time.
type Assistant struct {
	store     state.Store
	inbox     mail.Inbox
	sender    mail.Sender
	users     UserDirectory
	tasks     TaskStore
	extractor TaskExtractor
	convos    *convo.Manager
	scheduler *remind.Scheduler
	archiver  Archiver
	now       func() time.Time
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Store     state.Store
	Inbox     mail.Inbox
	Sender    mail.Sender
	Users     UserDirectory
	Tasks     TaskStore
	Extractor TaskExtractor
	Convos    *convo.Manager
	Scheduler *remind.Scheduler
	Archiver  Archiver
}

// New creates an Assistant.
func New(cfg Config) *Assistant {
	return &Assistant{
		store:     cfg.Store,
		inbox:     cfg.Inbox,
		sender:    cfg.Sender,
		users:     cfg.Users,
		tasks:     cfg.Tasks,
		extractor: cfg.Extractor,
		convos:    cfg.Convos,
		scheduler: cfg.Scheduler,
		archiver:  cfg.Archiver,
		now:       time.Now,
	}
}

// RunPass executes one full pass: reminder scans first, then every unread
// message in mailbox order, strictly one at a time. A fetch failure aborts
// the pass; per-message failures are recorded in the report and do not stop
// the loop.
func (a *Assistant) RunPass(ctx context.Context) (PassReport, error) {
	report := PassReport{StartedAt: a.now()}

	st := a.store.Load()
	report.ContextReminders = a.scheduler.SendContextReminders(ctx, st)
	a.convos.CleanupExpired(st)
	report.TaskReminders = a.scheduler.SendTaskReminders(ctx, st)
	report.TasksUntracked = a.scheduler.SyncOutstandingTasks(ctx, st)

	messages, err := a.inbox.FetchUnread(ctx)
	if err != nil {
		report.FinishedAt = a.now()
		return report, fmt.Errorf("fetching inbox: %w", err)
	}
	slog.Info("processing pass", "unread", len(messages))

	for _, msg := range messages {
		res := a.processMessage(ctx, st, msg)

		if res.MarkRead {
			if err := a.inbox.MarkRead(ctx, msg.ID); err != nil {
				slog.Warn("marking message read failed", "message_id", msg.ID, "error", err)
			}
		}
		a.archive(msg, res)
		report.Results = append(report.Results, res)
	}

	report.FinishedAt = a.now()
	return report, nil
}

// processMessage runs one message through the per-message state machine.
func (a *Assistant) processMessage(ctx context.Context, st *state.State, msg mail.Message) Result {
	res := Result{MessageID: msg.ID, Sender: msg.From, MarkRead: true}
	plain := msg.PlainText()

	if convID := convo.Correlate(st, msg.Subject, plain, msg.From); convID != "" {
		return a.processReply(ctx, st, msg, convID, plain)
	}

	user, err := a.users.LookupUser(ctx, msg.From)
	if err != nil {
		// The one deliberate leave-unread case: the sender may register, or
		// the directory may come back, before the next poll.
		res.Outcome = OutcomeUserNotFound
		res.MarkRead = false
		res.Err = err
		slog.Warn("user lookup failed, leaving message unread", "sender", msg.From, "error", err)
		return res
	}

	text := plain
	if attachments := mail.AttachmentText(msg); attachments != "" {
		text = strings.TrimSpace(text + "\n\n" + attachments)
	}

	meta := extract.EmailMeta{Sender: senderName(msg), Date: msg.Date, Subject: msg.Subject}
	extracted, err := a.extractor.Extract(ctx, meta, text)
	if err != nil {
		res.Outcome = OutcomeExtractionFailed
		res.Err = err
		slog.Error("task extraction failed", "message_id", msg.ID, "error", err)
		return res
	}
	res.TasksExtracted = len(extracted)

	if len(extracted) == 0 {
		res.Outcome = OutcomeNoTasks
		return res
	}

	ready, needsContext := task.Classify(extracted)

	// Ready tasks are filed before any clarification round-trip so they are
	// never held hostage to it.
	readyFiled := 0
	for _, t := range ready {
		if err := a.tasks.Persist(ctx, user.DatabaseID, t); err != nil {
			slog.Error("persisting ready task failed", "task", t.Task, "error", err)
			continue
		}
		readyFiled++
		a.convos.TrackOutstanding(st, msg.From, user.DatabaseID, t)
	}

	if len(needsContext) == 0 {
		email := mail.Confirmation(ready)
		if err := a.sender.Send(ctx, msg.From, email.Subject, email.Text, email.HTML); err != nil {
			slog.Warn("sending confirmation failed", "message_id", msg.ID, "error", err)
		}
		if !a.store.Save(st) {
			slog.Error("state save failed after processing message", "message_id", msg.ID)
		}
		res.Outcome = OutcomeProcessed
		return res
	}

	convID, err := a.convos.Create(st, convo.CreateParams{
		UserEmail:           msg.From,
		ReadyTasks:          ready,
		ContextNeededTasks:  needsContext,
		OriginalEmailID:     msg.ID,
		UserDatabaseID:      user.DatabaseID,
		ReadyTasksProcessed: true,
	})
	if err != nil {
		// No conversation, so no clarification went out. Ready tasks were
		// already filed above.
		res.Outcome = OutcomeConversationFailed
		res.Err = err
		slog.Error("creating conversation failed", "message_id", msg.ID, "error", err)
		return res
	}
	res.ConversationID = convID

	questions := verify.Questions(needsContext)
	email := mail.ClarificationRequest(questions, len(needsContext), readyFiled, convID)
	if err := a.sender.Send(ctx, msg.From, email.Subject, email.Text, email.HTML); err != nil {
		slog.Warn("sending clarification request failed", "conversation_id", convID, "error", err)
	}

	res.Outcome = OutcomeClarificationSent
	return res
}

// processReply merges a correlated reply into its conversation. All three
// merge outcomes are terminal and mark the message read; retrying a
// malformed reply forever helps nobody.
func (a *Assistant) processReply(ctx context.Context, st *state.State, msg mail.Message, convID, plain string) Result {
	res := Result{MessageID: msg.ID, Sender: msg.From, MarkRead: true, ConversationID: convID}

	reply := mail.ExtractReply(plain)
	merge, err := a.convos.MergeReply(ctx, st, convID, reply)
	if err != nil {
		res.Err = err
	}

	switch merge.Outcome {
	case convo.MergeComplete:
		res.Outcome = OutcomeConversationComplete
	case convo.MergePartial:
		res.Outcome = OutcomeConversationPartial
	default:
		res.Outcome = OutcomeMergeFailed
	}
	return res
}

func (a *Assistant) archive(msg mail.Message, res Result) {
	if a.archiver == nil {
		return
	}
	err := a.archiver.Record(archive.Entry{
		ID:             msg.ID,
		Sender:         msg.From,
		Subject:        msg.Subject,
		Outcome:        string(res.Outcome),
		ConversationID: res.ConversationID,
		TasksExtracted: res.TasksExtracted,
		ProcessedAt:    a.now(),
	})
	if err != nil {
		slog.Warn("archiving message failed", "message_id", msg.ID, "error", err)
	}
}

func senderName(msg mail.Message) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	return msg.From
}
