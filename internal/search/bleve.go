// Package search provides Bleve full-text search over chapter text.
package search

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hondana/yomu/internal/models"
)

// Index is a Bleve-backed full-text index of chapter titles and bodies.
type Index struct {
	index bleve.Index
}

// chapterDoc is the indexed representation of one chapter.
type chapterDoc struct {
	BookID  string `json:"book_id"`
	Chapter string `json:"chapter_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is one search hit.
type Result struct {
	BookID    string   `json:"book_id"`
	ChapterID string   `json:"chapter_id"`
	Title     string   `json:"title,omitempty"`
	Score     float64  `json:"score"`
	Fragments []string `json:"fragments,omitempty"`
}

// NewIndex creates or opens a Bleve index at path.
// If the path already exists the existing index is opened and reused, so
// books indexed in a previous run do not need re-indexing. If the mapping
// changes in code, remove the index directory to force a rebuild.
func NewIndex(path string) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so queries match
	// exact words; stemming surprises readers searching for character names.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("book_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("chapter_id", keywordFieldMapping)
	im.AddDocumentMapping("chapter", docMapping)
	im.DefaultType = "chapter"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

func docID(bookID, chapterID string) string {
	return bookID + "/" + chapterID
}

// IndexBook indexes all chapters of a book in one batch.
func (i *Index) IndexBook(ctx context.Context, book *models.Book) error {
	batch := i.index.NewBatch()
	for _, ch := range book.Chapters {
		doc := chapterDoc{
			BookID:  book.ID,
			Chapter: ch.ID,
			Title:   ch.Title,
			Content: ch.Body,
		}
		if err := batch.Index(docID(book.ID, ch.ID), doc); err != nil {
			return fmt.Errorf("failed to batch chapter %s: %w", ch.ID, err)
		}
	}
	return i.index.Batch(batch)
}

// RemoveBook deletes all of a book's chapters from the index.
func (i *Index) RemoveBook(ctx context.Context, book *models.Book) error {
	batch := i.index.NewBatch()
	for _, ch := range book.Chapters {
		batch.Delete(docID(book.ID, ch.ID))
	}
	return i.index.Batch(batch)
}

// Search runs a match query over chapter titles and bodies. A non-empty
// bookID restricts hits to that book. Highlighted content fragments are
// returned with each hit.
func (i *Index) Search(ctx context.Context, queryText, bookID string, limit int) ([]*Result, error) {
	match := bleve.NewMatchQuery(queryText)

	var q blevequery.Query = match
	if bookID != "" {
		filter := bleve.NewTermQuery(bookID)
		filter.SetField("book_id")
		q = bleve.NewConjunctionQuery(match, filter)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"book_id", "chapter_id", "title"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("content")

	results, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Result, 0, len(results.Hits))
	for _, hit := range results.Hits {
		r := &Result{Score: hit.Score}
		if v, ok := hit.Fields["book_id"].(string); ok {
			r.BookID = v
		}
		if v, ok := hit.Fields["chapter_id"].(string); ok {
			r.ChapterID = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			r.Title = v
		}
		if frags, ok := hit.Fragments["content"]; ok {
			r.Fragments = frags
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}
