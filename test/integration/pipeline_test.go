// Package integration exercises the full ingestion-to-chat pipeline over real
// storage and a real search index.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/internal/storage"
)

func TestIntegration_IngestSearchChat(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	index, err := search.NewIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	lib := library.New(store, library.WithIndex(index))
	orchestrator := chat.NewOrchestrator(lib, store, &chat.MockProvider{})
	ctx := context.Background()

	book, err := lib.Add(ctx, epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("ingested %d chapters, want 2", len(book.Chapters))
	}

	// Ingestion should have written through to both storage and the index.
	if ok, err := store.HasBook(ctx, book.ID); err != nil || !ok {
		t.Fatalf("book not persisted: ok=%v err=%v", ok, err)
	}
	results, err := index.Search(ctx, "stormy", book.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ChapterID != "chapter-0" {
		t.Fatalf("search results = %+v", results)
	}

	session, err := orchestrator.CreateSession(ctx, book.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	turn, err := orchestrator.SendTurn(ctx, session.ID, "", "Who is narrating?")
	if err != nil {
		t.Fatal(err)
	}
	if turn.Context.ChapterID != "chapter-0" {
		t.Errorf("turn context chapter = %q", turn.Context.ChapterID)
	}
	if turn.Reply == "" {
		t.Error("empty reply")
	}

	got, err := orchestrator.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 2 {
		t.Errorf("history length = %d, want user + assistant", len(got.History))
	}
}

func TestIntegration_DeleteCleansUpEverything(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	index, err := search.NewIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	lib := library.New(store, library.WithIndex(index))
	orchestrator := chat.NewOrchestrator(lib, store, &chat.MockProvider{})
	ctx := context.Background()

	book, err := lib.Add(ctx, epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}
	session, err := orchestrator.CreateSession(ctx, book.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := lib.Delete(ctx, book.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetSession(ctx, session.ID); err == nil {
		t.Error("session survived book deletion")
	}
	results, err := index.Search(ctx, "stormy", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("index still has %d hits after delete", len(results))
	}
}
