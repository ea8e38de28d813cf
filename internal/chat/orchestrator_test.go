package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/models"
	"github.com/hondana/yomu/internal/storage"
)

func newTestOrchestrator(t *testing.T, provider Provider, opts ...OrchestratorOption) (*Orchestrator, *library.Library, storage.Storage, string) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	lib := library.New(store)
	book, err := lib.Add(context.Background(), epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(lib, store, provider, opts...)
	return o, lib, store, book.ID
}

func TestOrchestrator_CreateSessionDefaultsToFirstChapter(t *testing.T) {
	o, _, _, bookID := newTestOrchestrator(t, &MockProvider{})
	session, err := o.CreateSession(context.Background(), bookID, "")
	if err != nil {
		t.Fatal(err)
	}
	if session.CurrentChapterID != "chapter-0" {
		t.Errorf("current chapter = %q, want chapter-0", session.CurrentChapterID)
	}
	if session.ID == "" {
		t.Error("session has no id")
	}
}

func TestOrchestrator_CreateSessionUnknownChapter(t *testing.T) {
	o, _, _, bookID := newTestOrchestrator(t, &MockProvider{})
	_, err := o.CreateSession(context.Background(), bookID, "chapter-42")
	if !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}
}

func TestOrchestrator_SendTurnAppendsHistory(t *testing.T) {
	mock := &MockProvider{Reply: "A fine question about the storm."}
	o, _, store, bookID := newTestOrchestrator(t, mock)
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}

	result, err := o.SendTurn(ctx, session.ID, "", "What is the weather like?")
	if err != nil {
		t.Fatal(err)
	}
	if result.Reply != mock.Reply {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.Context == nil || result.Context.ChapterID != "chapter-0" {
		t.Errorf("context = %+v", result.Context)
	}

	got, err := o.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(got.History))
	}
	if got.History[0].Role != models.RoleUser || got.History[1].Role != models.RoleAssistant {
		t.Errorf("history roles = %q, %q", got.History[0].Role, got.History[1].Role)
	}

	// Turns are durable, not just cached.
	turns, err := store.GetTurns(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Errorf("persisted turns = %d, want 2", len(turns))
	}

	// The provider saw the chapter text in the system prompt.
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d", len(calls))
	}
	if calls[0][0].Role != "system" {
		t.Errorf("first message role = %q", calls[0][0].Role)
	}
}

func TestOrchestrator_FailedTurnLeavesSessionUntouched(t *testing.T) {
	mock := &MockProvider{Err: errors.New("upstream exploded")}
	o, _, store, bookID := newTestOrchestrator(t, mock)
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.SendTurn(ctx, session.ID, "", "hello?"); err == nil {
		t.Fatal("expected provider error")
	}

	got, err := o.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 0 {
		t.Errorf("history len = %d after failed turn, want 0", len(got.History))
	}
	turns, err := store.GetTurns(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("persisted turns = %d after failed turn, want 0", len(turns))
	}
}

func TestOrchestrator_BudgetTooSmall(t *testing.T) {
	o, _, _, bookID := newTestOrchestrator(t, &MockProvider{}, WithTokenBudget(1))
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.SendTurn(ctx, session.ID, "", "hi")
	if !errors.Is(err, ErrBudgetTooSmall) {
		t.Fatalf("err = %v, want ErrBudgetTooSmall", err)
	}
}

// blockingProvider holds Generate open until released, to exercise the
// one-turn-at-a-time guarantee.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	close(p.started)
	select {
	case <-p.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestOrchestrator_ConcurrentTurnRejected(t *testing.T) {
	provider := &blockingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, _, _, bookID := newTestOrchestrator(t, provider)
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.SendTurn(ctx, session.ID, "", "first turn")
		done <- err
	}()

	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never reached the provider")
	}

	if _, err := o.SendTurn(ctx, session.ID, "", "second turn"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// With the first turn complete, the session accepts turns again.
	got, err := o.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 2 {
		t.Errorf("history len = %d, want only the completed turn", len(got.History))
	}
}

func TestOrchestrator_Navigate(t *testing.T) {
	o, _, _, bookID := newTestOrchestrator(t, &MockProvider{})
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}

	updated, err := o.Navigate(ctx, session.ID, "chapter-1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if updated.CurrentChapterID != "chapter-1" || updated.CurrentOffset != 7 {
		t.Errorf("session after navigate = %+v", updated)
	}

	if _, err := o.Navigate(ctx, session.ID, "chapter-42", 0); !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("err = %v, want ErrChapterNotFound", err)
	}
}

func TestOrchestrator_SessionReloadedFromStorage(t *testing.T) {
	mock := &MockProvider{}
	o, lib, store, bookID := newTestOrchestrator(t, mock)
	ctx := context.Background()

	session, err := o.CreateSession(ctx, bookID, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.SendTurn(ctx, session.ID, "", "remember me"); err != nil {
		t.Fatal(err)
	}

	// A fresh orchestrator sharing the same storage sees the session.
	fresh := NewOrchestrator(lib, store, mock)
	got, err := fresh.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BookID != bookID {
		t.Errorf("book id = %q", got.BookID)
	}
	if len(got.History) != 2 {
		t.Errorf("reloaded history len = %d, want 2", len(got.History))
	}
}

func TestOrchestrator_UnknownSession(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, &MockProvider{})
	_, err := o.SendTurn(context.Background(), "no-such-session", "", "hi")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
