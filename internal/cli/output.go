// Package cli provides CLI output utilities for Yomu.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hondana/yomu/internal/models"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteBookList writes library summaries to w in the given format.
func WriteBookList(w io.Writer, books []*models.BookSummary, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(books)
	}
	if len(books) == 0 {
		fmt.Fprintln(w, "Library is empty.")
		return nil
	}
	for _, b := range books {
		fmt.Fprintf(w, "%s\n", b.ID)
		fmt.Fprintf(w, "  %s", utils.Truncate(b.Title, 80))
		if b.Author != "" {
			fmt.Fprintf(w, " — %s", utils.Truncate(b.Author, 40))
		}
		fmt.Fprintf(w, "\n  %d chapters", b.Chapters)
		if b.Warnings > 0 {
			fmt.Fprintf(w, ", %d warnings", b.Warnings)
		}
		fmt.Fprintf(w, ", added %s\n", b.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// WriteBook writes an ingestion result to w.
func WriteBook(w io.Writer, book *models.Book, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(book)
	}
	fmt.Fprintf(w, "Ingested %s\n", book.ID)
	fmt.Fprintf(w, "  Title:    %s\n", book.Title)
	if book.Author != "" {
		fmt.Fprintf(w, "  Author:   %s\n", book.Author)
	}
	fmt.Fprintf(w, "  Chapters: %d\n", len(book.Chapters))
	for _, warn := range book.Warnings {
		fmt.Fprintf(w, "  Warning:  %s: %s\n", warn.Code, warn.Detail)
	}
	return nil
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, results []*search.Result, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. [%.4f] %s / %s", i+1, r.Score, r.BookID, r.ChapterID)
		if r.Title != "" {
			fmt.Fprintf(w, " (%s)", utils.Truncate(r.Title, 60))
		}
		fmt.Fprintln(w)
		for _, frag := range r.Fragments {
			fmt.Fprintf(w, "   %s\n", utils.Truncate(frag, 160))
		}
	}
	return nil
}
