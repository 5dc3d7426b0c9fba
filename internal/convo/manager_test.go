package convo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalenko/taskpilot/internal/state"
	"github.com/kalenko/taskpilot/internal/task"
	"github.com/kalenko/taskpilot/internal/verify"
)

type memStore struct {
	saves    int
	failSave bool
}

func (s *memStore) Load() *state.State { return state.New() }

func (s *memStore) Save(*state.State) bool {
	s.saves++
	return !s.failSave
}

type stubParser struct {
	result   verify.Result
	gotReply string
}

func (p *stubParser) Parse(_ context.Context, reply string, _ []task.Record) verify.Result {
	p.gotReply = reply
	return p.result
}

type stubPersister struct {
	persisted []task.Record
	failTitle string
}

func (p *stubPersister) Persist(_ context.Context, _ string, t task.Record) error {
	if p.failTitle != "" && t.Task == p.failTitle {
		return errors.New("database unavailable")
	}
	p.persisted = append(p.persisted, t)
	return nil
}

type stubNotifier struct {
	confirmations  int
	confirmedTasks []task.Record
	requests       int
	requestPending []task.Record
	requestReady   int
}

func (n *stubNotifier) SendConfirmation(_ context.Context, _ string, tasks []task.Record) error {
	n.confirmations++
	n.confirmedTasks = tasks
	return nil
}

func (n *stubNotifier) SendContextRequest(_ context.Context, _ string, pending []task.Record, _ string, readyCount int) error {
	n.requests++
	n.requestPending = pending
	n.requestReady = readyCount
	return nil
}

type fixture struct {
	manager  *Manager
	store    *memStore
	parser   *stubParser
	tasks    *stubPersister
	notifier *stubNotifier
}

func newFixture() *fixture {
	f := &fixture{
		store:    &memStore{},
		parser:   &stubParser{},
		tasks:    &stubPersister{},
		notifier: &stubNotifier{},
	}
	f.manager = NewManager(f.store, f.parser, f.tasks, f.notifier)
	return f
}

func seedConversation(st *state.State, id string) *state.PendingConversation {
	c := &state.PendingConversation{
		ID:                 id,
		UserEmail:          "a@example.com",
		ReadyTasks:         []task.Record{{Task: "Ship release", Status: "In Progress"}},
		ContextNeededTasks: []task.Record{{Task: "fix it", NeedsDescription: true}},
		UserDatabaseID:     "db-1",
		CreatedAt:          time.Now().Add(-time.Hour),
	}
	st.PendingConversations[id] = c
	return c
}

func TestCreatePersistsImmediately(t *testing.T) {
	f := newFixture()
	st := state.New()

	id, err := f.manager.Create(st, CreateParams{
		UserEmail:          "a@example.com",
		ContextNeededTasks: []task.Record{{Task: "fix it"}},
		UserDatabaseID:     "db-1",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Errorf("Create() id = %q, want UUID form", id)
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d, want 1", f.store.saves)
	}
	c, ok := st.PendingConversations[id]
	if !ok {
		t.Fatal("conversation not stored")
	}
	if c.UserEmail != "a@example.com" || c.UserDatabaseID != "db-1" {
		t.Errorf("stored conversation = %+v", c)
	}
	if c.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCreateSaveFailure(t *testing.T) {
	f := newFixture()
	f.store.failSave = true
	st := state.New()

	if _, err := f.manager.Create(st, CreateParams{UserEmail: "a@example.com"}); err == nil {
		t.Fatal("Create() expected error on save failure")
	}
	if len(st.PendingConversations) != 0 {
		t.Error("failed create left a conversation in state")
	}
}

func TestMergeReplyComplete(t *testing.T) {
	f := newFixture()
	st := state.New()
	seedConversation(st, idAlpha)

	clarified := task.Record{Task: "Fix the login redirect", Status: "Not Started"}
	f.parser.result = verify.Result{Status: verify.StatusComplete, Updated: []task.Record{clarified}}

	res, err := f.manager.MergeReply(context.Background(), st, idAlpha, "1. It is about the login redirect")
	if err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if res.Outcome != MergeComplete {
		t.Fatalf("outcome = %q, want complete", res.Outcome)
	}
	if res.Persisted != 2 {
		t.Errorf("persisted = %d, want ready + clarified", res.Persisted)
	}
	if len(f.tasks.persisted) != 2 {
		t.Fatalf("store received %d tasks, want 2", len(f.tasks.persisted))
	}
	if f.tasks.persisted[0].Task != "Ship release" || f.tasks.persisted[1].Task != "Fix the login redirect" {
		t.Errorf("persisted tasks = %v", f.tasks.persisted)
	}
	if f.notifier.confirmations != 1 {
		t.Errorf("confirmations = %d, want 1", f.notifier.confirmations)
	}
	if _, ok := st.PendingConversations[idAlpha]; ok {
		t.Error("completed conversation not removed")
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d, want 1", f.store.saves)
	}
	// Both filed tasks are trackable, so both get reminder entries.
	if len(st.OutstandingTasks) != 2 {
		t.Errorf("outstanding tasks = %d, want 2", len(st.OutstandingTasks))
	}
}

func TestMergeReplyCompleteSkipsFinishedTasks(t *testing.T) {
	f := newFixture()
	st := state.New()
	c := seedConversation(st, idAlpha)
	c.ReadyTasks = []task.Record{{Task: "Old chore", Status: "Completed"}}

	f.parser.result = verify.Result{Status: verify.StatusComplete,
		Updated: []task.Record{{Task: "Fix the login redirect", Status: "Not Started"}}}

	if _, err := f.manager.MergeReply(context.Background(), st, idAlpha, "reply"); err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if len(st.OutstandingTasks) != 1 {
		t.Errorf("outstanding tasks = %d, want only the unfinished one", len(st.OutstandingTasks))
	}
}

func TestMergeReplyCompleteSkipsAlreadyFiledReadyTasks(t *testing.T) {
	f := newFixture()
	st := state.New()
	c := seedConversation(st, idAlpha)
	c.ReadyTasksProcessed = true

	f.parser.result = verify.Result{Status: verify.StatusComplete,
		Updated: []task.Record{{Task: "Fix the login redirect", Status: "Not Started"}}}

	res, err := f.manager.MergeReply(context.Background(), st, idAlpha, "reply")
	if err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if res.Persisted != 1 {
		t.Errorf("persisted = %d, want only the clarified task", res.Persisted)
	}
	// The confirmation still summarizes everything, filed now or earlier.
	if len(f.notifier.confirmedTasks) != 2 {
		t.Errorf("confirmation covered %d tasks, want 2", len(f.notifier.confirmedTasks))
	}
}

func TestMergeReplyPartial(t *testing.T) {
	f := newFixture()
	st := state.New()
	seedConversation(st, idAlpha)

	clarified := task.Record{Task: "Fix the login redirect", Status: "Not Started"}
	still := task.Record{Task: "check on it", NeedsDescription: true}
	f.parser.result = verify.Result{
		Status:       verify.StatusPartial,
		Updated:      []task.Record{clarified},
		StillPending: []task.Record{still},
	}

	res, err := f.manager.MergeReply(context.Background(), st, idAlpha, "partial answer")
	if err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if res.Outcome != MergePartial || res.Persisted != 2 || res.Remaining != 1 {
		t.Fatalf("result = %+v", res)
	}

	c := st.PendingConversations[idAlpha]
	if c == nil {
		t.Fatal("partial conversation deleted")
	}
	if len(c.ReadyTasks) != 0 {
		t.Error("ready tasks not cleared after filing")
	}
	if !c.ReadyTasksProcessed {
		t.Error("ReadyTasksProcessed not marked")
	}
	if len(c.ContextNeededTasks) != 1 || c.ContextNeededTasks[0].Task != "check on it" {
		t.Errorf("context tasks = %v", c.ContextNeededTasks)
	}
	if f.notifier.requests != 1 || f.notifier.requestReady != 2 {
		t.Errorf("follow-up request calls = %d readyCount = %d", f.notifier.requests, f.notifier.requestReady)
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d, want 1", f.store.saves)
	}
	// Partial filings do not start reminder tracking; that happens on completion.
	if len(st.OutstandingTasks) != 0 {
		t.Errorf("outstanding tasks = %d, want 0", len(st.OutstandingTasks))
	}
}

func TestMergeReplyFailedLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	st := state.New()
	c := seedConversation(st, idAlpha)
	before := len(c.ContextNeededTasks)

	f.parser.result = verify.Result{Status: verify.StatusError, Message: "could not parse"}

	res, err := f.manager.MergeReply(context.Background(), st, idAlpha, "???")
	if err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if res.Outcome != MergeFailed || res.Remaining != before {
		t.Fatalf("result = %+v", res)
	}
	if f.store.saves != 0 {
		t.Errorf("saves = %d, want 0 on failed merge", f.store.saves)
	}
	if len(f.tasks.persisted) != 0 {
		t.Error("failed merge persisted tasks")
	}
}

func TestMergeReplyUnknownConversation(t *testing.T) {
	f := newFixture()

	_, err := f.manager.MergeReply(context.Background(), state.New(), idAlpha, "reply")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("MergeReply() error = %v, want ErrNotFound", err)
	}
}

func TestMergeReplyPersistFailureDoesNotBlockSiblings(t *testing.T) {
	f := newFixture()
	st := state.New()
	seedConversation(st, idAlpha)
	f.tasks.failTitle = "Ship release"

	f.parser.result = verify.Result{Status: verify.StatusComplete,
		Updated: []task.Record{{Task: "Fix the login redirect", Status: "Not Started"}}}

	res, err := f.manager.MergeReply(context.Background(), st, idAlpha, "reply")
	if err != nil {
		t.Fatalf("MergeReply() error: %v", err)
	}
	if res.Persisted != 1 {
		t.Errorf("persisted = %d, want the surviving task only", res.Persisted)
	}
	if len(st.OutstandingTasks) != 1 {
		t.Errorf("outstanding tasks = %d, want 1", len(st.OutstandingTasks))
	}
}

func TestTrackOutstandingReplacesEntry(t *testing.T) {
	f := newFixture()
	st := state.New()
	rec := task.Record{Task: "Ship release", Status: "In Progress", Employee: "a@example.com", Date: "2026-09-01"}

	first := f.manager.TrackOutstanding(st, "a@example.com", "db-1", rec)
	if first == "" {
		t.Fatal("expected tracking id")
	}
	firstCreated := st.OutstandingTasks[first].CreatedAt

	f.manager.now = func() time.Time { return firstCreated.Add(time.Hour) }
	second := f.manager.TrackOutstanding(st, "a@example.com", "db-1", rec)
	if second != first {
		t.Fatalf("tracking id changed: %q vs %q", first, second)
	}
	if len(st.OutstandingTasks) != 1 {
		t.Fatalf("outstanding tasks = %d, want 1", len(st.OutstandingTasks))
	}
	if !st.OutstandingTasks[first].CreatedAt.After(firstCreated) {
		t.Error("re-tracking did not restart the reminder clock")
	}
}

func TestRemove(t *testing.T) {
	f := newFixture()
	st := state.New()
	seedConversation(st, idAlpha)

	if !f.manager.Remove(st, idAlpha) {
		t.Fatal("Remove() = false for existing conversation")
	}
	if f.manager.Remove(st, idAlpha) {
		t.Fatal("Remove() = true for missing conversation")
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d, want 1", f.store.saves)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.manager.now = func() time.Time { return now }

	st := state.New()
	st.PendingConversations["old"] = &state.PendingConversation{
		ID: "old", UserEmail: "a@example.com", CreatedAt: now.Add(-DefaultMaxAge - time.Second),
	}
	st.PendingConversations["boundary"] = &state.PendingConversation{
		ID: "boundary", UserEmail: "a@example.com", CreatedAt: now.Add(-DefaultMaxAge),
	}
	st.PendingConversations["fresh"] = &state.PendingConversation{
		ID: "fresh", UserEmail: "a@example.com", CreatedAt: now.Add(-time.Hour),
	}

	if removed := f.manager.CleanupExpired(st); removed != 1 {
		t.Fatalf("CleanupExpired() = %d, want 1", removed)
	}
	if _, ok := st.PendingConversations["old"]; ok {
		t.Error("expired conversation retained")
	}
	if _, ok := st.PendingConversations["boundary"]; !ok {
		t.Error("boundary conversation removed")
	}
	if f.store.saves != 1 {
		t.Errorf("saves = %d, want 1", f.store.saves)
	}

	if removed := f.manager.CleanupExpired(st); removed != 0 {
		t.Errorf("second CleanupExpired() = %d, want 0", removed)
	}
	if f.store.saves != 1 {
		t.Errorf("saves after no-op cleanup = %d, want still 1", f.store.saves)
	}
}
