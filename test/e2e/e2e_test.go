// Package e2e drives the HTTP API end to end: upload a book, walk its table
// of contents, hold a conversation, and search it.
package e2e

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/config"
	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/library"
	"github.com/hondana/yomu/internal/search"
	"github.com/hondana/yomu/internal/server"
	"github.com/hondana/yomu/internal/storage"
)

const testNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>I. Arrival</text></navLabel><content src="ch1.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>II. The Lighthouse</text></navLabel><content src="ch2.xhtml"/></navPoint>
    <navPoint id="n3"><navLabel><text>III. Departure</text></navLabel><content src="ch3.xhtml"/></navPoint>
  </navMap>
</ncx>`

// threeChapterBook is a book with an NCX whose labels differ from the
// chapter headings.
func threeChapterBook() []byte {
	manifest := `<item id="c1" href="ch1.xhtml" media-type="application/xhtml+xml"/>` +
		`<item id="c2" href="ch2.xhtml" media-type="application/xhtml+xml"/>` +
		`<item id="c3" href="ch3.xhtml" media-type="application/xhtml+xml"/>` +
		`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`
	spine := `<itemref idref="c1"/><itemref idref="c2"/><itemref idref="c3"/>`
	return epubtest.Archive(
		epubtest.Entry{Name: "mimetype", Data: "application/epub+zip"},
		epubtest.Entry{Name: "META-INF/container.xml", Data: epubtest.Container},
		epubtest.Entry{Name: "OEBPS/content.opf", Data: epubtest.PackageDoc("The Lighthouse", "M. Keeper", manifest, spine, `toc="ncx"`)},
		epubtest.Entry{Name: "OEBPS/toc.ncx", Data: testNCX},
		epubtest.Entry{Name: "OEBPS/ch1.xhtml", Data: epubtest.Chapter("Arrival", "The ferry crossed at dusk.")},
		epubtest.Entry{Name: "OEBPS/ch2.xhtml", Data: epubtest.Chapter("The Lighthouse", "The lamp turned all night over the reef.")},
		epubtest.Entry{Name: "OEBPS/ch3.xhtml", Data: epubtest.Chapter("Departure", "By morning the harbor was empty.")},
	)
}

func newStack(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := search.NewIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	lib := library.New(store, library.WithIndex(index))
	orchestrator := chat.NewOrchestrator(lib, store, &chat.MockProvider{Reply: "The keeper tends the lamp."})

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return server.NewServer(lib, orchestrator, index, store, cfg, zap.NewNop()).Router()
}

func call(t *testing.T, handler http.Handler, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var data []byte
	if raw, ok := body.([]byte); ok {
		data = raw
	} else if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s = %d, want %d: %s", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}

func TestE2E_ReadingSessionOverAPI(t *testing.T) {
	handler := newStack(t)

	var book struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	call(t, handler, http.MethodPost, "/api/v1/books", threeChapterBook(), http.StatusCreated, &book)
	if book.Title != "The Lighthouse" {
		t.Fatalf("title = %q", book.Title)
	}

	// NCX labels, not chapter headings, name the TOC entries.
	var toc struct {
		TOC []struct {
			Label     string `json:"label"`
			ChapterID string `json:"chapter_id"`
		} `json:"toc"`
	}
	call(t, handler, http.MethodGet, "/api/v1/books/"+book.ID+"/toc", nil, http.StatusOK, &toc)
	if len(toc.TOC) != 3 {
		t.Fatalf("toc has %d entries", len(toc.TOC))
	}
	if toc.TOC[1].Label != "II. The Lighthouse" || toc.TOC[1].ChapterID != "chapter-1" {
		t.Errorf("toc[1] = %+v", toc.TOC[1])
	}

	var session struct {
		ID               string `json:"id"`
		CurrentChapterID string `json:"current_chapter_id"`
	}
	call(t, handler, http.MethodPost, "/api/v1/sessions",
		map[string]string{"book_id": book.ID, "chapter_id": "chapter-1"},
		http.StatusCreated, &session)
	if session.CurrentChapterID != "chapter-1" {
		t.Fatalf("session chapter = %q", session.CurrentChapterID)
	}

	var turn struct {
		Reply   string `json:"reply"`
		Context struct {
			ChapterID string `json:"chapter_id"`
			Text      string `json:"text"`
		} `json:"context"`
	}
	call(t, handler, http.MethodPost, "/api/v1/sessions/"+session.ID+"/chat",
		map[string]string{"message": "What does the lamp do?"},
		http.StatusOK, &turn)
	if turn.Context.ChapterID != "chapter-1" {
		t.Errorf("context chapter = %q", turn.Context.ChapterID)
	}

	// Reading on: the next turn draws its context from the new chapter.
	call(t, handler, http.MethodPost, "/api/v1/sessions/"+session.ID+"/navigate",
		map[string]string{"chapter_id": "chapter-2"}, http.StatusOK, nil)
	call(t, handler, http.MethodPost, "/api/v1/sessions/"+session.ID+"/chat",
		map[string]string{"message": "And now?"},
		http.StatusOK, &turn)
	if turn.Context.ChapterID != "chapter-2" {
		t.Errorf("context chapter after navigate = %q", turn.Context.ChapterID)
	}

	var results struct {
		Results []struct {
			BookID    string `json:"book_id"`
			ChapterID string `json:"chapter_id"`
		} `json:"results"`
	}
	call(t, handler, http.MethodPost, "/api/v1/search",
		map[string]string{"query": "reef", "book_id": book.ID},
		http.StatusOK, &results)
	if len(results.Results) != 1 || results.Results[0].ChapterID != "chapter-1" {
		t.Errorf("search results = %+v", results.Results)
	}
}
