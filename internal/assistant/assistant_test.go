package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
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

type memStore struct {
	st        *state.State
	saves     int
	failSaves bool
}

func (s *memStore) Load() *state.State {
	if s.st == nil {
		s.st = state.New()
	}
	return s.st
}

func (s *memStore) Save(st *state.State) bool {
	s.st = st
	s.saves++
	return !s.failSaves
}

type stubInbox struct {
	messages []mail.Message
	fetchErr error
	read     []string
}

func (i *stubInbox) FetchUnread(context.Context) ([]mail.Message, error) {
	if i.fetchErr != nil {
		return nil, i.fetchErr
	}
	return i.messages, nil
}

func (i *stubInbox) MarkRead(_ context.Context, id string) error {
	i.read = append(i.read, id)
	return nil
}

type sentEmail struct {
	to      string
	subject string
	text    string
}

type recordingSender struct {
	sent []sentEmail
}

func (r *recordingSender) Send(_ context.Context, to, subject, text, _ string) error {
	r.sent = append(r.sent, sentEmail{to: to, subject: subject, text: text})
	return nil
}

type stubDirectory struct {
	users map[string]User
	err   error
}

func (d *stubDirectory) LookupUser(_ context.Context, email string) (User, error) {
	if d.err != nil {
		return User{}, d.err
	}
	u, ok := d.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

type stubTaskStore struct {
	persisted []task.Record
	external  map[string][]task.Record
}

func (s *stubTaskStore) Persist(_ context.Context, _ string, t task.Record) error {
	s.persisted = append(s.persisted, t)
	return nil
}

func (s *stubTaskStore) FetchTasks(_ context.Context, collectionID string) ([]task.Record, error) {
	return s.external[collectionID], nil
}

type stubExtractor struct {
	tasks []task.Record
	err   error
}

func (e *stubExtractor) Extract(context.Context, extract.EmailMeta, string) ([]task.Record, error) {
	return e.tasks, e.err
}

type stubParser struct {
	result verify.Result
}

func (p *stubParser) Parse(context.Context, string, []task.Record) verify.Result {
	return p.result
}

type memArchiver struct {
	entries []archive.Entry
}

func (a *memArchiver) Record(e archive.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

type fixture struct {
	assistant *Assistant
	store     *memStore
	inbox     *stubInbox
	sender    *recordingSender
	directory *stubDirectory
	tasks     *stubTaskStore
	extractor *stubExtractor
	parser    *stubParser
	archiver  *memArchiver
}

func newFixture() *fixture {
	f := &fixture{
		store:     &memStore{},
		inbox:     &stubInbox{},
		sender:    &recordingSender{},
		directory: &stubDirectory{users: map[string]User{"jane@example.com": {Email: "jane@example.com", Name: "Jane", DatabaseID: "db-jane"}}},
		tasks:     &stubTaskStore{external: map[string][]task.Record{}},
		extractor: &stubExtractor{},
		parser:    &stubParser{},
		archiver:  &memArchiver{},
	}
	convos := convo.NewManager(f.store, f.parser, f.tasks, NewMailNotifier(f.sender))
	scheduler := remind.NewScheduler(f.store, f.sender, convos, f.tasks)
	f.assistant = New(Config{
		Store:     f.store,
		Inbox:     f.inbox,
		Sender:    f.sender,
		Users:     f.directory,
		Tasks:     f.tasks,
		Extractor: f.extractor,
		Convos:    convos,
		Scheduler: scheduler,
		Archiver:  f.archiver,
	})
	return f
}

func inboundUpdate(id string) mail.Message {
	return mail.Message{
		ID:       id,
		From:     "jane@example.com",
		FromName: "Jane",
		Subject:  "Weekly update",
		TextBody: "Here is what I worked on.",
		Date:     "2026-09-01",
	}
}

func TestAllReadyMessage(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.tasks = []task.Record{{
		Task: "Deployed v2 API to production", Status: "Completed",
		Employee: "Jane", Category: "Platform", Date: "2024-03-01",
	}}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(report.Results))
	}
	res := report.Results[0]
	if res.Outcome != OutcomeProcessed || !res.MarkRead {
		t.Errorf("result = %+v", res)
	}
	if len(f.tasks.persisted) != 1 {
		t.Errorf("persisted = %d tasks, want 1", len(f.tasks.persisted))
	}
	if len(f.store.st.PendingConversations) != 0 {
		t.Error("conversation created for an all-ready message")
	}
	if len(f.sender.sent) != 1 || !strings.Contains(f.sender.sent[0].subject, "1 Tasks Processed") {
		t.Errorf("confirmation email = %+v", f.sender.sent)
	}
	if len(f.inbox.read) != 1 || f.inbox.read[0] != "m1" {
		t.Errorf("marked read = %v", f.inbox.read)
	}
}

func TestAllAmbiguousMessage(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.tasks = []task.Record{{
		Task: "Check on it", Status: "Not Started",
		Employee: "Jane", Category: "General", Date: "2024-03-01",
	}}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeClarificationSent || !res.MarkRead {
		t.Fatalf("result = %+v", res)
	}
	if len(f.store.st.PendingConversations) != 1 {
		t.Fatalf("conversations = %d, want exactly 1", len(f.store.st.PendingConversations))
	}
	c := f.store.st.PendingConversations[res.ConversationID]
	if c == nil || len(c.ContextNeededTasks) != 1 {
		t.Fatalf("conversation = %+v", c)
	}
	if !c.ReadyTasksProcessed {
		t.Error("ReadyTasksProcessed not set at creation")
	}
	if len(f.tasks.persisted) != 0 {
		t.Error("ambiguous task was persisted without clarification")
	}
	if len(f.sender.sent) != 1 || !strings.Contains(f.sender.sent[0].subject, "[Context Request: "+res.ConversationID+"]") {
		t.Errorf("clarification email = %+v", f.sender.sent)
	}
}

func TestConversationCreateFailure(t *testing.T) {
	f := newFixture()
	f.store.failSaves = true
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.tasks = []task.Record{{
		Task: "Check on it", Status: "Not Started",
		Employee: "Jane", Category: "General", Date: "2024-03-01",
	}}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeConversationFailed {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeConversationFailed)
	}
	if res.Err == nil {
		t.Error("result carries no error for the failed conversation")
	}
	if len(f.store.st.PendingConversations) != 0 {
		t.Error("failed conversation left in state")
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("emails sent despite conversation failure: %+v", f.sender.sent)
	}
}

func TestReplyResolvesFully(t *testing.T) {
	f := newFixture()
	convID := "11111111-2222-3333-4444-555555555555"
	st := state.New()
	st.PendingConversations[convID] = &state.PendingConversation{
		ID:                  convID,
		UserEmail:           "jane@example.com",
		ContextNeededTasks:  []task.Record{{Task: "Check on it", NeedsDescription: true}},
		UserDatabaseID:      "db-jane",
		CreatedAt:           time.Now().Add(-time.Hour),
		ReadyTasksProcessed: true,
	}
	f.store.st = st

	f.inbox.messages = []mail.Message{{
		ID:       "m2",
		From:     "jane@example.com",
		Subject:  "Re: Task Manager: Need More Details [Context Request: " + convID + "]",
		TextBody: "1. It was about following up with the vendor on the contract",
		Date:     "2026-09-01",
	}}
	f.parser.result = verify.Result{Status: verify.StatusComplete,
		Updated: []task.Record{{Task: "Follow up with the vendor on the contract", Status: "Not Started"}}}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeConversationComplete || res.ConversationID != convID {
		t.Fatalf("result = %+v", res)
	}
	if len(f.store.st.PendingConversations) != 0 {
		t.Error("completed conversation still in store")
	}
	if len(f.tasks.persisted) != 1 {
		t.Errorf("persisted = %d, want the clarified task", len(f.tasks.persisted))
	}
	if len(f.sender.sent) != 1 || !strings.Contains(f.sender.sent[0].subject, "Tasks Processed") {
		t.Errorf("confirmation email = %+v", f.sender.sent)
	}
	if len(f.inbox.read) != 1 {
		t.Error("reply not marked read")
	}
}

func TestReplyResolvesPartially(t *testing.T) {
	f := newFixture()
	convID := "11111111-2222-3333-4444-555555555555"
	pendingA := task.Record{Task: "Check on it", NeedsDescription: true}
	pendingB := task.Record{Task: "fix thing", NeedsDescription: true}
	st := state.New()
	st.PendingConversations[convID] = &state.PendingConversation{
		ID: convID, UserEmail: "jane@example.com",
		ContextNeededTasks:  []task.Record{pendingA, pendingB},
		UserDatabaseID:      "db-jane",
		CreatedAt:           time.Now().Add(-time.Hour),
		ReadyTasksProcessed: true,
	}
	f.store.st = st

	f.inbox.messages = []mail.Message{{
		ID: "m3", From: "jane@example.com",
		Subject:  "Re: [Context Request: " + convID + "]",
		TextBody: "1. It was the vendor follow-up",
		Date:     "2026-09-01",
	}}
	f.parser.result = verify.Result{
		Status:       verify.StatusPartial,
		Updated:      []task.Record{{Task: "Follow up with the vendor", Status: "Not Started"}},
		StillPending: []task.Record{pendingB},
	}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	if report.Results[0].Outcome != OutcomeConversationPartial {
		t.Fatalf("result = %+v", report.Results[0])
	}
	c := f.store.st.PendingConversations[convID]
	if c == nil || len(c.ContextNeededTasks) != 1 || c.ContextNeededTasks[0].Task != "fix thing" {
		t.Fatalf("conversation after partial = %+v", c)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("emails = %+v", f.sender.sent)
	}
	if !strings.Contains(f.sender.sent[0].text, "fix thing") ||
		strings.Contains(f.sender.sent[0].text, "Check on it") {
		t.Errorf("follow-up should list only the remaining task:\n%s", f.sender.sent[0].text)
	}
}

func TestUnknownSenderLeftUnread(t *testing.T) {
	f := newFixture()
	msg := inboundUpdate("m1")
	msg.From = "stranger@example.com"
	f.inbox.messages = []mail.Message{msg}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeUserNotFound || res.MarkRead {
		t.Fatalf("result = %+v", res)
	}
	if len(f.inbox.read) != 0 {
		t.Error("message marked read despite failed lookup")
	}
}

func TestNoTasksMessage(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.tasks = nil

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeNoTasks || !res.MarkRead {
		t.Fatalf("result = %+v", res)
	}
	if len(f.sender.sent) != 0 {
		t.Error("email sent for a no-task message")
	}
}

func TestExtractionFailureMarksRead(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.err = errors.New("provider down")

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeExtractionFailed || !res.MarkRead || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if len(f.inbox.read) != 1 {
		t.Error("failed extraction should still mark the message read")
	}
}

func TestMixedMessagePersistsReadyFirst(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1")}
	f.extractor.tasks = []task.Record{
		{Task: "Deployed v2 API to production", Status: "Completed", Employee: "Jane", Category: "Platform", Date: "2024-03-01"},
		{Task: "Check on it", Status: "Not Started", Employee: "Jane", Category: "General", Date: "2024-03-01"},
	}

	report, err := f.assistant.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != OutcomeClarificationSent {
		t.Fatalf("result = %+v", res)
	}
	if len(f.tasks.persisted) != 1 || f.tasks.persisted[0].Task != "Deployed v2 API to production" {
		t.Errorf("persisted = %+v, want the ready task filed before clarification", f.tasks.persisted)
	}
	if !strings.Contains(f.sender.sent[0].text, "successfully processed 1 tasks") {
		t.Errorf("clarification email missing ready count:\n%s", f.sender.sent[0].text)
	}
}

func TestInboxFailureAbortsPass(t *testing.T) {
	f := newFixture()
	f.inbox.fetchErr = errors.New("imap down")

	if _, err := f.assistant.RunPass(context.Background()); err == nil {
		t.Fatal("RunPass() expected error on fetch failure")
	}
}

func TestArchiveRecordsEveryMessage(t *testing.T) {
	f := newFixture()
	f.inbox.messages = []mail.Message{inboundUpdate("m1"), inboundUpdate("m2")}
	f.extractor.tasks = []task.Record{{
		Task: "Deployed v2 API to production", Status: "Completed",
		Employee: "Jane", Category: "Platform", Date: "2024-03-01",
	}}

	if _, err := f.assistant.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass() error: %v", err)
	}
	if len(f.archiver.entries) != 2 {
		t.Fatalf("archived = %d entries, want 2", len(f.archiver.entries))
	}
	if f.archiver.entries[0].Outcome != string(OutcomeProcessed) {
		t.Errorf("entry = %+v", f.archiver.entries[0])
	}
}
