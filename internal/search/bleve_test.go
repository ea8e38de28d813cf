package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hondana/yomu/internal/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func indexedBook(id string) *models.Book {
	return &models.Book{
		ID: id,
		Chapters: []*models.Chapter{
			{ID: "chapter-0", Title: "The Whale", Body: "Call me Ishmael. The whale surfaced at dawn."},
			{ID: "chapter-1", Title: "The Storm", Body: "Thunder rolled over the empty harbor."},
		},
	}
}

func TestIndex_SearchFindsChapter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexBook(ctx, indexedBook("book:a")); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "whale", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results: %+v", len(results), results)
	}
	if results[0].BookID != "book:a" || results[0].ChapterID != "chapter-0" {
		t.Errorf("hit = %+v", results[0])
	}
	if len(results[0].Fragments) == 0 {
		t.Error("hit has no highlighted fragments")
	}
}

func TestIndex_BookFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.IndexBook(ctx, indexedBook("book:a")); err != nil {
		t.Fatal(err)
	}
	other := indexedBook("book:b")
	other.Chapters = other.Chapters[:1]
	if err := idx.IndexBook(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := idx.Search(ctx, "whale", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered got %d results", len(all))
	}

	filtered, err := idx.Search(ctx, "whale", "book:b", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].BookID != "book:b" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestIndex_RemoveBook(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	book := indexedBook("book:a")
	if err := idx.IndexBook(ctx, book); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemoveBook(ctx, book); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "whale", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results after remove", len(results))
	}
}
