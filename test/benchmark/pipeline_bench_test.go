package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hondana/yomu/internal/chat"
	"github.com/hondana/yomu/internal/epub"
	"github.com/hondana/yomu/internal/epub/epubtest"
	"github.com/hondana/yomu/internal/search"
)

// largeBook builds a book with many multi-paragraph chapters.
func largeBook(chapters, paragraphs int) []byte {
	var manifest, spine strings.Builder
	var docs []epubtest.Entry
	for i := 0; i < chapters; i++ {
		name := fmt.Sprintf("ch%d.xhtml", i)
		fmt.Fprintf(&manifest, `<item id="c%d" href="%s" media-type="application/xhtml+xml"/>`, i, name)
		fmt.Fprintf(&spine, `<itemref idref="c%d"/>`, i)
		paras := make([]string, paragraphs)
		for p := range paras {
			paras[p] = fmt.Sprintf("Paragraph %d of chapter %d, with a bit of running text about harbors and weather.", p, i)
		}
		docs = append(docs, epubtest.Entry{Name: "OEBPS/" + name, Data: epubtest.Chapter(fmt.Sprintf("Chapter %d", i), paras...)})
	}
	entries := []epubtest.Entry{
		{Name: "mimetype", Data: "application/epub+zip"},
		{Name: "META-INF/container.xml", Data: epubtest.Container},
		{Name: "OEBPS/content.opf", Data: epubtest.PackageDoc("Bench Book", "", manifest.String(), spine.String(), "")},
	}
	return epubtest.Archive(append(entries, docs...)...)
}

func BenchmarkIngest(b *testing.B) {
	data := largeBook(20, 30)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := epub.Ingest(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAssemble(b *testing.B) {
	book, err := epub.Ingest(largeBook(5, 200))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := chat.Assemble(book, "chapter-2", 512, chat.AssembleOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	index, err := search.NewIndex(filepath.Join(b.TempDir(), "bleve"))
	if err != nil {
		b.Fatal(err)
	}
	defer index.Close()

	ctx := context.Background()
	book, err := epub.Ingest(largeBook(20, 30))
	if err != nil {
		b.Fatal(err)
	}
	if err := index.IndexBook(ctx, book); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := index.Search(ctx, "harbors weather", "", 10); err != nil {
			b.Fatal(err)
		}
	}
}
