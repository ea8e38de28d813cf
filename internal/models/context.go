package models

// ChatContext is the token-budgeted text block assembled for a single chat
// turn. It is built fresh per turn and never persisted.
type ChatContext struct {
	ChapterID    string `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title"`
	// Text is the chapter slice actually included, possibly truncated.
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
	// PriorSummary is a short placeholder for the immediately preceding
	// chapter, included only when budget remains after the chapter text.
	PriorSummary string `json:"prior_summary,omitempty"`
	TokenCount   int    `json:"token_count"`
}
