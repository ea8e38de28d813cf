// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hondana/yomu/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT,
		language TEXT,
		spine TEXT NOT NULL,
		toc TEXT NOT NULL,
		warnings TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_books_created_at ON books(created_at);

	CREATE TABLE IF NOT EXISTS chapters (
		id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		spine_index INTEGER NOT NULL,
		title TEXT,
		href TEXT,
		body TEXT NOT NULL,
		segments TEXT NOT NULL,
		PRIMARY KEY (book_id, id),
		FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chapters_book_order ON chapters(book_id, spine_index);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		current_chapter_id TEXT,
		current_offset INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_book_id ON sessions(book_id);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		chapter_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns(session_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateBook inserts a book and all its chapters in one transaction.
func (s *SQLiteStorage) CreateBook(ctx context.Context, book *models.Book) error {
	spineJSON, err := json.Marshal(book.Spine)
	if err != nil {
		return fmt.Errorf("failed to marshal spine: %w", err)
	}
	tocJSON, err := json.Marshal(book.TOC)
	if err != nil {
		return fmt.Errorf("failed to marshal toc: %w", err)
	}
	warningsJSON, err := json.Marshal(book.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO books (id, title, author, language, spine, toc, warnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Author, book.Language,
		string(spineJSON), string(tocJSON), string(warningsJSON), book.CreatedAt,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chapters (id, book_id, spine_index, title, href, body, segments)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range book.Chapters {
		segmentsJSON, err := json.Marshal(ch.Segments)
		if err != nil {
			return fmt.Errorf("failed to marshal segments: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.BookID, ch.SpineIndex, ch.Title, ch.Href, ch.Body, string(segmentsJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetBook returns a book with all its chapters in spine order.
func (s *SQLiteStorage) GetBook(ctx context.Context, id string) (*models.Book, error) {
	var book models.Book
	var spineJSON, tocJSON string
	var warningsJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, author, language, spine, toc, warnings, created_at
		 FROM books WHERE id = ?`, id,
	).Scan(&book.ID, &book.Title, &book.Author, &book.Language,
		&spineJSON, &tocJSON, &warningsJSON, &book.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(spineJSON), &book.Spine); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spine: %w", err)
	}
	if err := json.Unmarshal([]byte(tocJSON), &book.TOC); err != nil {
		return nil, fmt.Errorf("failed to unmarshal toc: %w", err)
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &book.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, spine_index, title, href, body, segments
		 FROM chapters WHERE book_id = ? ORDER BY spine_index`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ch models.Chapter
		var segmentsJSON string
		if err := rows.Scan(&ch.ID, &ch.BookID, &ch.SpineIndex, &ch.Title, &ch.Href, &ch.Body, &segmentsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(segmentsJSON), &ch.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
		book.Chapters = append(book.Chapters, &ch)
	}
	return &book, rows.Err()
}

// HasBook reports whether a book with the given id exists.
func (s *SQLiteStorage) HasBook(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM books WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteBook removes a book; chapters, sessions, and turns cascade.
func (s *SQLiteStorage) DeleteBook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	return err
}

// ListBooks returns summaries of all books, newest first.
func (s *SQLiteStorage) ListBooks(ctx context.Context) ([]*models.BookSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.title, b.author, b.warnings, b.created_at,
		        (SELECT COUNT(*) FROM chapters c WHERE c.book_id = b.id)
		 FROM books b ORDER BY b.created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.BookSummary
	for rows.Next() {
		var sum models.BookSummary
		var warningsJSON sql.NullString
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Author, &warningsJSON, &sum.CreatedAt, &sum.Chapters); err != nil {
			return nil, err
		}
		if warningsJSON.Valid && warningsJSON.String != "" {
			var warnings []models.Warning
			_ = json.Unmarshal([]byte(warningsJSON.String), &warnings)
			sum.Warnings = len(warnings)
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// CreateSession inserts a reading session.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *models.ReadingSession) error {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, book_id, current_chapter_id, current_offset, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.BookID, session.CurrentChapterID, session.CurrentOffset,
		session.CreatedAt, session.UpdatedAt,
	)
	return err
}

// GetSession returns a session by id. History is not loaded; use GetTurns.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.ReadingSession, error) {
	var session models.ReadingSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, book_id, current_chapter_id, current_offset, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.BookID, &session.CurrentChapterID, &session.CurrentOffset,
		&session.CreatedAt, &session.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession persists the session's position fields.
func (s *SQLiteStorage) UpdateSession(ctx context.Context, session *models.ReadingSession) error {
	session.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET current_chapter_id = ?, current_offset = ?, updated_at = ?
		 WHERE id = ?`,
		session.CurrentChapterID, session.CurrentOffset, session.UpdatedAt, session.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, session.ID)
	}
	return nil
}

// DeleteSessionsByBookID removes all sessions for a book.
func (s *SQLiteStorage) DeleteSessionsByBookID(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE book_id = ?`, bookID)
	return err
}

// AppendTurns inserts turns for a session in one transaction, preserving order.
func (s *SQLiteStorage) AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (session_id, role, text, chapter_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, turn := range turns {
		if _, err := stmt.ExecContext(ctx, sessionID, turn.Role, turn.Text, turn.ChapterID, turn.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTurns returns the most recent limit turns for a session in
// chronological order. limit <= 0 returns all turns.
func (s *SQLiteStorage) GetTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error) {
	query := `SELECT role, text, chapter_id, created_at FROM turns
	          WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		var turn models.ChatTurn
		var chapterID sql.NullString
		if err := rows.Scan(&turn.Role, &turn.Text, &chapterID, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turn.ChapterID = chapterID.String
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountBooks returns the total number of books.
func (s *SQLiteStorage) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count)
	return count, err
}

// CountSessions returns the total number of sessions.
func (s *SQLiteStorage) CountSessions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
