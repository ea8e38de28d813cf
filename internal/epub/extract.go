package epub

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hondana/yomu/internal/models"
)

// blockTags break the text flow into segments.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true,
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Tr: true, atom.Blockquote: true,
	atom.Hr: true, atom.Table: true, atom.Section: true,
}

// headingTags mark segments as headings and provide title candidates.
var headingTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
}

// skipTags have their entire content discarded.
var skipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true,
}

// extracted is the markup-reduced form of one content document.
type extracted struct {
	Body     string
	Segments []models.Segment
	// Heading is the first heading's text, used as a title candidate.
	Heading string
}

// extractText reduces an XHTML/HTML document to plain text. All markup is
// stripped, script/style/head content is discarded, whitespace runs collapse
// to single spaces, and block boundaries become segment breaks. Segments are
// joined with blank lines into Body and carry their byte offsets into it.
func extractText(doc string) (*extracted, error) {
	z := html.NewTokenizer(strings.NewReader(doc))

	type rawSeg struct {
		kind models.SegmentKind
		text string
	}
	var segs []rawSeg
	var buf strings.Builder
	skipDepth := 0
	headingDepth := 0

	flush := func() {
		text := strings.TrimSpace(collapseSpaces(buf.String()))
		buf.Reset()
		if text == "" {
			return
		}
		kind := models.SegmentParagraph
		if headingDepth > 0 {
			kind = models.SegmentHeading
		}
		segs = append(segs, rawSeg{kind: kind, text: text})
	}

loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return nil, fmt.Errorf("epub: tokenize document: %w", z.Err())
			}
			break loop

		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				skipDepth++
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if blockTags[a] {
				flush()
			}
			if headingTags[a] {
				headingDepth++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if headingTags[a] {
				flush()
				if headingDepth > 0 {
					headingDepth--
				}
				continue
			}
			if blockTags[a] {
				flush()
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipDepth > 0 {
				continue
			}
			if blockTags[a] {
				flush()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			buf.Write(z.Text())
		}
	}
	flush()

	out := &extracted{}
	var body strings.Builder
	for i, s := range segs {
		if i > 0 {
			body.WriteString("\n\n")
		}
		start := body.Len()
		body.WriteString(s.text)
		out.Segments = append(out.Segments, models.Segment{
			Kind:  s.kind,
			Start: start,
			End:   body.Len(),
		})
		if s.kind == models.SegmentHeading && out.Heading == "" {
			out.Heading = s.text
		}
	}
	out.Body = body.String()
	return out, nil
}

// collapseSpaces replaces runs of whitespace with a single space.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0':
			inSpace = true
		default:
			if inSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			inSpace = false
		}
	}
	return b.String()
}

// extractChapters produces a Chapter for every linear spine entry, in spine
// order. Chapter ids derive from the spine position; non-linear entries are
// kept in the returned spine refs but never become chapters. A document that
// cannot be read or fully decoded yields a warning and a degraded chapter
// rather than failing the book.
func extractChapters(c *container, doc *packageDoc, bookID string, warn func(code, detail string)) ([]models.SpineRef, []*models.Chapter) {
	refs := make([]models.SpineRef, 0, len(doc.Spine))
	var chapters []*models.Chapter

	for i, se := range doc.Spine {
		item := doc.item(se.ItemID)
		ref := models.SpineRef{
			ItemID:    item.ID,
			Href:      item.Href,
			MediaType: item.MediaType,
			Linear:    se.Linear,
		}
		if !se.Linear {
			refs = append(refs, ref)
			continue
		}

		ch := &models.Chapter{
			ID:         fmt.Sprintf("chapter-%d", i),
			BookID:     bookID,
			SpineIndex: i,
			Href:       item.Href,
		}
		ref.ChapterID = ch.ID

		raw, err := c.read(item.Href)
		if err != nil {
			warn(WarnChapterDecodeFailure, fmt.Sprintf("%s: %v", ch.ID, err))
			refs = append(refs, ref)
			chapters = append(chapters, ch)
			continue
		}
		text, replaced := decodeDocument(raw)
		if replaced {
			warn(WarnChapterDecodeFailure, fmt.Sprintf("%s: undecodable byte sequences replaced", ch.ID))
		}
		ext, err := extractText(text)
		if err != nil {
			warn(WarnChapterDecodeFailure, fmt.Sprintf("%s: %v", ch.ID, err))
			refs = append(refs, ref)
			chapters = append(chapters, ch)
			continue
		}
		ch.Body = ext.Body
		ch.Segments = ext.Segments
		ch.Title = ext.Heading // title candidate; TOC labels take precedence

		refs = append(refs, ref)
		chapters = append(chapters, ch)
	}
	return refs, chapters
}
