package chat

import (
	"fmt"
	"strings"

	"github.com/hondana/yomu/internal/models"
)

// AssembleOptions tune context assembly for one turn.
type AssembleOptions struct {
	// Offset is the reader's last known byte offset within the chapter
	// body. Truncation keeps the text nearest this position; zero keeps
	// from the start.
	Offset int

	// PriorSummary, when non-empty, replaces the generated placeholder for
	// the preceding chapter (summary generation itself is delegated to the
	// LLM layer).
	PriorSummary string
}

// Assemble builds the ChatContext for one chat turn: the target chapter's
// plain text fitted to the token budget, plus a short note about the
// preceding chapter when budget remains. It is a pure function of the book,
// its arguments, and nothing else.
//
// Truncation is deterministic and segment-granular: whole paragraphs are
// included starting at the segment containing opts.Offset until the budget
// is exhausted, and dropping anything sets Truncated. Returns
// ErrBudgetTooSmall when not even the first segment fits.
func Assemble(book *models.Book, chapterID string, budget int, opts AssembleOptions) (*models.ChatContext, error) {
	var chapter *models.Chapter
	var position int
	for i, ch := range book.Chapters {
		if ch.ID == chapterID {
			chapter = ch
			position = i
			break
		}
	}
	if chapter == nil {
		return nil, fmt.Errorf("%w: %s", ErrChapterNotFound, chapterID)
	}

	out := &models.ChatContext{
		ChapterID:    chapter.ID,
		ChapterTitle: chapter.Title,
	}
	if len(chapter.Segments) == 0 {
		return out, nil // empty chapter: nothing to include, nothing to truncate
	}

	start := segmentAt(chapter, opts.Offset)
	if start > 0 {
		out.Truncated = true // everything before the reader's position is dropped
	}

	var included []string
	used := 0
	for i := start; i < len(chapter.Segments); i++ {
		seg := chapter.Segments[i]
		text := chapter.Body[seg.Start:seg.End]
		n := CountTokens(text)
		if used+n > budget {
			if len(included) == 0 {
				return nil, fmt.Errorf("%w: budget %d, first segment needs %d tokens", ErrBudgetTooSmall, budget, n)
			}
			out.Truncated = true
			break
		}
		included = append(included, text)
		used += n
	}

	out.Text = strings.Join(included, "\n\n")
	out.TokenCount = used

	// Spend leftover budget on a one-line note about the preceding chapter.
	if position > 0 && used < budget {
		summary := opts.PriorSummary
		if summary == "" {
			summary = fmt.Sprintf("Previously: %s.", book.Chapters[position-1].Title)
		}
		if n := CountTokens(summary); used+n <= budget {
			out.PriorSummary = summary
			out.TokenCount += n
		}
	}

	return out, nil
}

// segmentAt returns the index of the segment containing the byte offset,
// or 0 when the offset is untracked or out of range.
func segmentAt(ch *models.Chapter, offset int) int {
	if offset <= 0 || offset >= len(ch.Body) {
		return 0
	}
	for i, seg := range ch.Segments {
		if offset < seg.End {
			return i
		}
	}
	return 0
}
