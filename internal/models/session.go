package models

import "time"

// Role of a chat turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message of a reading session's conversation history.
type ChatTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	ChapterID string    `json:"chapter_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadingSession tracks one reader's position and conversation for one book.
// Mutation is serialized by the chat orchestrator; a session is never
// touched by two turns at once.
type ReadingSession struct {
	ID               string     `json:"id"`
	BookID           string     `json:"book_id"`
	CurrentChapterID string     `json:"current_chapter_id"`
	// CurrentOffset is the reader's last known byte offset within the
	// current chapter's body, used to anchor context truncation. Zero
	// means "start of chapter".
	CurrentOffset int        `json:"current_offset"`
	History       []ChatTurn `json:"history"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
