package chat

import "errors"

var (
	// ErrBudgetTooSmall indicates the token budget cannot fit even the
	// smallest meaningful slice of the chapter (one segment).
	ErrBudgetTooSmall = errors.New("chat: token budget too small for chapter context")

	// ErrChapterNotFound indicates the requested chapter id does not exist
	// in the book.
	ErrChapterNotFound = errors.New("chat: chapter not found")

	// ErrSessionBusy indicates another turn is currently mutating the
	// session; the caller should retry after it completes.
	ErrSessionBusy = errors.New("chat: session busy with another turn")

	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = errors.New("chat: session not found")
)
