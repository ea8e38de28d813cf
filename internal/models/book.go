// Package models defines core data structures for books, chapters, sessions, and chat context.
package models

import "time"

// Book is the parsed, immutable result of ingesting one EPUB archive.
// Once ingestion completes a Book is never mutated; it is safe for
// concurrent reads by any number of chat turns.
type Book struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author,omitempty"`
	Language  string     `json:"language,omitempty"`
	Spine     []SpineRef `json:"spine"`
	TOC       []TocEntry `json:"toc"`
	Chapters  []*Chapter `json:"chapters"`
	Warnings  []Warning  `json:"warnings,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SpineRef is one entry of the canonical reading sequence.
type SpineRef struct {
	ItemID    string `json:"item_id"`
	Href      string `json:"href"`
	MediaType string `json:"media_type,omitempty"`
	Linear    bool   `json:"linear"`
	// ChapterID is empty for non-linear entries, which are retained for
	// reference but excluded from chapter numbering.
	ChapterID string `json:"chapter_id,omitempty"`
}

// TocEntry is one node of the table of contents tree. Targets always
// resolve to a chapter present in the book; unresolvable entries are
// dropped during ingestion.
type TocEntry struct {
	Label     string     `json:"label"`
	ChapterID string     `json:"chapter_id"`
	Fragment  string     `json:"fragment,omitempty"`
	Children  []TocEntry `json:"children,omitempty"`
}

// SegmentKind distinguishes headings from body paragraphs in extracted text.
type SegmentKind string

const (
	SegmentHeading   SegmentKind = "heading"
	SegmentParagraph SegmentKind = "paragraph"
)

// Segment is one paragraph or heading of a chapter, with its byte offsets
// into the chapter's plain-text body (Body[Start:End]).
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Start int         `json:"start"`
	End   int         `json:"end"`
}

// Chapter is the extracted plain text of one linear spine entry.
// IDs are "chapter-<spine index>" and stable across re-ingestion of
// byte-identical archives.
type Chapter struct {
	ID         string    `json:"id"`
	BookID     string    `json:"book_id"`
	SpineIndex int       `json:"spine_index"`
	Title      string    `json:"title"`
	Href       string    `json:"href"`
	Body       string    `json:"body"`
	Segments   []Segment `json:"segments"`
}

// Warning records a recoverable ingestion issue (the offending entity was
// dropped or substituted and ingestion continued).
type Warning struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// BookSummary is the lightweight library-listing view of a book.
type BookSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	Chapters  int       `json:"chapters"`
	Warnings  int       `json:"warnings"`
	CreatedAt time.Time `json:"created_at"`
}

// ChapterRef is the chapter-listing view (id, title, position in reading order).
type ChapterRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}
