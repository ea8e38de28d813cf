package epub

import (
	"time"

	"github.com/hondana/yomu/internal/bookid"
	"github.com/hondana/yomu/internal/models"
)

// Ingest parses raw EPUB archive bytes into an immutable Book. It is a
// single pass over the archive and is idempotent: the same bytes always
// produce the same book id, chapter ids, and chapter bodies.
//
// Fatal archive-structure errors (ErrInvalidArchive,
// ErrMissingContainerDescriptor, ErrMissingRootFile) return with no partial
// book. Recoverable per-entity issues never abort ingestion; they are
// accumulated into Book.Warnings with the offending entity dropped or
// substituted.
func Ingest(data []byte) (*models.Book, error) {
	var warnings []models.Warning
	warn := func(code, detail string) {
		warnings = append(warnings, models.Warning{Code: code, Detail: detail})
	}

	c, err := openContainer(data)
	if err != nil {
		return nil, err
	}

	doc, err := parsePackage(c, warn)
	if err != nil {
		return nil, err
	}

	id := bookid.FromBytes(data)
	spine, chapters := extractChapters(c, doc, id, warn)

	// Map content-document archive paths to chapter ids for TOC target
	// resolution. First chapter wins when two spine entries share a file.
	chapterByPath := make(map[string]string, len(chapters))
	for _, ch := range chapters {
		if _, ok := chapterByPath[ch.Href]; !ok {
			chapterByPath[ch.Href] = ch.ID
		}
	}

	toc, found := resolveTOC(c, doc, chapterByPath, warn)

	applyTitles(chapters, toc)
	if !found {
		toc = synthesizeTOC(chapters)
	}

	return &models.Book{
		ID:        id,
		Title:     doc.Title,
		Author:    doc.Author,
		Language:  doc.Language,
		Spine:     spine,
		TOC:       toc,
		Chapters:  chapters,
		Warnings:  warnings,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// applyTitles finalizes chapter titles: the first matching TOC label wins,
// then the first heading found during extraction, then "Untitled".
func applyTitles(chapters []*models.Chapter, toc []models.TocEntry) {
	labels := make(map[string]string)
	collectLabels(toc, labels)
	for _, ch := range chapters {
		if label, ok := labels[ch.ID]; ok && label != "" {
			ch.Title = label
		}
		if ch.Title == "" {
			ch.Title = "Untitled"
		}
	}
}

func collectLabels(entries []models.TocEntry, out map[string]string) {
	for _, e := range entries {
		if _, ok := out[e.ChapterID]; !ok && e.Label != "" {
			out[e.ChapterID] = e.Label
		}
		collectLabels(e.Children, out)
	}
}
