package library

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/storage"
)

func newTestLibrary(t *testing.T) (*Library, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestLibrary_AddIsIdempotent(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx := context.Background()
	data := epubtest.TwoChapterBook()

	first, err := lib.Add(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	second, err := lib.Add(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %q vs %q", first.ID, second.ID)
	}

	summaries, err := lib.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Errorf("library has %d books after re-add, want 1", len(summaries))
	}
}

func TestLibrary_ConcurrentAddSameBytes(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx := context.Background()
	data := epubtest.TwoChapterBook()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			book, err := lib.Add(ctx, data)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = book.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("add %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("add %d got id %q, want %q", i, ids[i], ids[0])
		}
	}

	summaries, err := lib.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Errorf("library has %d books after concurrent adds, want 1", len(summaries))
	}
}

func TestLibrary_GetLoadsFromStorage(t *testing.T) {
	lib, store := newTestLibrary(t)
	ctx := context.Background()

	book, err := lib.Add(ctx, epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}

	// A fresh library over the same storage has a cold cache.
	fresh := New(store)
	got, err := fresh.Get(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != book.Title || len(got.Chapters) != len(book.Chapters) {
		t.Errorf("reloaded book = %q with %d chapters", got.Title, len(got.Chapters))
	}
}

func TestLibrary_Chapter(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx := context.Background()

	book, err := lib.Add(ctx, epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}
	ch, err := lib.Chapter(ctx, book.ID, "chapter-1")
	if err != nil {
		t.Fatal(err)
	}
	if ch.Title != "Chapter Two" {
		t.Errorf("chapter title = %q", ch.Title)
	}
	if _, err := lib.Chapter(ctx, book.ID, "chapter-9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLibrary_Delete(t *testing.T) {
	lib, _ := newTestLibrary(t)
	ctx := context.Background()

	book, err := lib.Add(ctx, epubtest.TwoChapterBook())
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.Delete(ctx, book.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Get(ctx, book.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := lib.Delete(ctx, book.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}
