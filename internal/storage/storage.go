// Package storage defines the persistence interface for books and reading sessions.
package storage

import (
	"context"
	"errors"

	"github.com/hondana/yomu/internal/models"
)

// ErrNotFound is returned when a book or session id does not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage defines book and session persistence operations.
type Storage interface {
	// Book operations. Books are written once at ingestion and never
	// updated; chapters are stored and loaded with their book.
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id string) (*models.Book, error)
	HasBook(ctx context.Context, id string) (bool, error)
	DeleteBook(ctx context.Context, id string) error
	ListBooks(ctx context.Context) ([]*models.BookSummary, error)

	// Session operations
	CreateSession(ctx context.Context, session *models.ReadingSession) error
	GetSession(ctx context.Context, id string) (*models.ReadingSession, error)
	UpdateSession(ctx context.Context, session *models.ReadingSession) error
	DeleteSessionsByBookID(ctx context.Context, bookID string) error

	// Turn operations
	AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) error
	GetTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error)

	// Stats
	CountBooks(ctx context.Context) (int64, error)
	CountSessions(ctx context.Context) (int64, error)

	Close() error
}
