// Package library coordinates EPUB ingestion, the in-memory book cache,
// persistence, and search indexing.
package library

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/bookid"
	"github.com/hondana/yomu/internal/epub"
	"github.com/hondana/yomu/internal/models"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/internal/storage"
)

// Library owns the ingested books. Books are immutable once ingested and
// served from an in-memory cache backed by storage.
type Library struct {
	store  storage.Storage
	index  *search.Index
	logger *zap.Logger

	mu       sync.Mutex
	books    map[string]*models.Book
	inflight map[string]chan struct{}
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// WithIndex enables full-text indexing of ingested chapters.
func WithIndex(index *search.Index) Option {
	return func(l *Library) { l.index = index }
}

// New creates a Library backed by the given storage.
func New(store storage.Storage, opts ...Option) *Library {
	l := &Library{
		store:    store,
		logger:   zap.NewNop(),
		books:    make(map[string]*models.Book),
		inflight: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add ingests raw EPUB archive bytes and returns the resulting book.
// Ingestion is idempotent: byte-identical archives map to the same book id,
// and re-adding an already ingested book returns the existing one without
// duplicate work. Concurrent Add calls for the same bytes are serialized;
// one performs the ingestion, the rest wait for its result.
func (l *Library) Add(ctx context.Context, data []byte) (*models.Book, error) {
	id := bookid.FromBytes(data)

	for {
		l.mu.Lock()
		if book, ok := l.books[id]; ok {
			l.mu.Unlock()
			return book, nil
		}
		done, busy := l.inflight[id]
		if !busy {
			done = make(chan struct{})
			l.inflight[id] = done
			l.mu.Unlock()
			return l.ingest(ctx, id, data, done)
		}
		l.mu.Unlock()

		select {
		case <-done:
			// The winner finished (or failed); retry the cache lookup.
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		l.mu.Lock()
		book, ok := l.books[id]
		l.mu.Unlock()
		if ok {
			return book, nil
		}
		// Winner failed; loop and try ingesting ourselves.
	}
}

func (l *Library) ingest(ctx context.Context, id string, data []byte, done chan struct{}) (*models.Book, error) {
	defer func() {
		l.mu.Lock()
		delete(l.inflight, id)
		l.mu.Unlock()
		close(done)
	}()

	// Already persisted by an earlier run: load instead of re-parsing.
	if exists, err := l.store.HasBook(ctx, id); err == nil && exists {
		book, err := l.store.GetBook(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing book: %w", err)
		}
		l.cache(book)
		return book, nil
	}

	book, err := epub.Ingest(data)
	if err != nil {
		return nil, err
	}

	if err := l.store.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to persist book: %w", err)
	}

	if l.index != nil {
		if err := l.index.IndexBook(ctx, book); err != nil {
			// Search is best-effort; the book itself is intact.
			l.logger.Warn("failed to index book",
				zap.String("book_id", book.ID),
				zap.Error(err))
		}
	}

	l.cache(book)
	l.logger.Info("book ingested",
		zap.String("book_id", book.ID),
		zap.String("title", book.Title),
		zap.Int("chapters", len(book.Chapters)),
		zap.Int("warnings", len(book.Warnings)))
	return book, nil
}

func (l *Library) cache(book *models.Book) {
	l.mu.Lock()
	l.books[book.ID] = book
	l.mu.Unlock()
}

// Get returns a book by id, loading it from storage on a cache miss.
func (l *Library) Get(ctx context.Context, id string) (*models.Book, error) {
	l.mu.Lock()
	book, ok := l.books[id]
	l.mu.Unlock()
	if ok {
		return book, nil
	}

	book, err := l.store.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cache(book)
	return book, nil
}

// Chapter returns one chapter of a book.
func (l *Library) Chapter(ctx context.Context, bookID, chapterID string) (*models.Chapter, error) {
	book, err := l.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	for _, ch := range book.Chapters {
		if ch.ID == chapterID {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: chapter %s", storage.ErrNotFound, chapterID)
}

// List returns summaries of all books, newest first.
func (l *Library) List(ctx context.Context) ([]*models.BookSummary, error) {
	return l.store.ListBooks(ctx)
}

// Delete removes a book from the cache, storage, and the search index.
// Sessions attached to the book are removed as well.
func (l *Library) Delete(ctx context.Context, id string) error {
	book, err := l.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := l.store.DeleteSessionsByBookID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := l.store.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if l.index != nil {
		if err := l.index.RemoveBook(ctx, book); err != nil {
			l.logger.Warn("failed to remove book from index",
				zap.String("book_id", id),
				zap.Error(err))
		}
	}

	l.mu.Lock()
	delete(l.books, id)
	l.mu.Unlock()
	l.logger.Info("book deleted", zap.String("book_id", id))
	return nil
}
