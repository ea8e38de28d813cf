package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/storage"
)

func newTestLibrary(t *testing.T) *library.Library {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return library.New(store)
}

// waitForBooks polls the library until it holds want books or the deadline
// passes.
func waitForBooks(t *testing.T, lib *library.Library, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		summaries, err := lib.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(summaries) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("library never reached %d books", want)
}

func TestWatcher_IngestsNewFile(t *testing.T) {
	lib := newTestLibrary(t)
	dir := t.TempDir()

	w := New(lib, []string{dir}, []string{".epub"}, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "book.epub")
	if err := os.WriteFile(path, epubtest.TwoChapterBook(), 0644); err != nil {
		t.Fatal(err)
	}

	waitForBooks(t, lib, 1)
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	lib := newTestLibrary(t)
	dir := t.TempDir()

	w := New(lib, []string{dir}, []string{".epub"}, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a book"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "book.epub"), epubtest.TwoChapterBook(), 0644); err != nil {
		t.Fatal(err)
	}

	// The .txt file would fail ingestion; only the .epub lands.
	waitForBooks(t, lib, 1)
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	lib := newTestLibrary(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "preexisting.epub"), epubtest.TwoChapterBook(), 0644); err != nil {
		t.Fatal(err)
	}

	w := New(lib, []string{dir}, []string{".epub"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.SyncExistingFiles(ctx)
	waitForBooks(t, lib, 1)
}

func TestWatcher_CreatesMissingRoot(t *testing.T) {
	lib := newTestLibrary(t)
	root := filepath.Join(t.TempDir(), "books")

	w := New(lib, []string{root}, []string{".epub"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Fatalf("root was not created: %v", err)
	}
}
