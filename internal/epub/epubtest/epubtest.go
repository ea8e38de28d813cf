// Package epubtest builds minimal in-memory EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// Entry is one archive entry.
type Entry struct {
	Name string
	Data string
}

// Archive assembles a ZIP archive from entries, in order.
func Archive(entries ...Entry) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := fw.Write([]byte(e.Data)); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Container is a container descriptor pointing at OEBPS/content.opf.
const Container = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// ContainerFor returns a container descriptor pointing at rootPath.
func ContainerFor(rootPath string) string {
	return strings.Replace(Container, "OEBPS/content.opf", rootPath, 1)
}

// PackageDoc assembles a package document from raw manifest and spine XML.
// spineAttrs (e.g. `toc="ncx"`) is optional.
func PackageDoc(title, author, manifest, spine, spineAttrs string) string {
	var meta strings.Builder
	if title != "" {
		fmt.Fprintf(&meta, "<dc:title>%s</dc:title>", title)
	}
	if author != "" {
		fmt.Fprintf(&meta, "<dc:creator>%s</dc:creator>", author)
	}
	meta.WriteString("<dc:language>en</dc:language>")

	attrs := ""
	if spineAttrs != "" {
		attrs = " " + spineAttrs
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0">
  <metadata>%s</metadata>
  <manifest>%s</manifest>
  <spine%s>%s</spine>
</package>`, meta.String(), manifest, attrs, spine)
}

// Chapter returns an XHTML content document with a heading and paragraphs.
func Chapter(heading string, paragraphs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?><html xmlns="http://www.w3.org/1999/xhtml"><head><title>`)
	sb.WriteString(heading)
	sb.WriteString("</title></head><body><h1>")
	sb.WriteString(heading)
	sb.WriteString("</h1>")
	for _, p := range paragraphs {
		sb.WriteString("<p>")
		sb.WriteString(p)
		sb.WriteString("</p>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

// TwoChapterBook is a well-formed book with two chapters and no navigation
// source of any kind.
func TwoChapterBook() []byte {
	manifest := `<item id="c1" href="ch1.xhtml" media-type="application/xhtml+xml"/>` +
		`<item id="c2" href="ch2.xhtml" media-type="application/xhtml+xml"/>`
	spine := `<itemref idref="c1"/><itemref idref="c2"/>`
	return Archive(
		Entry{"mimetype", "application/epub+zip"},
		Entry{"META-INF/container.xml", Container},
		Entry{"OEBPS/content.opf", PackageDoc("Test Book", "A. Author", manifest, spine, "")},
		Entry{"OEBPS/ch1.xhtml", Chapter("Chapter One", "It was a dark and stormy night.")},
		Entry{"OEBPS/ch2.xhtml", Chapter("Chapter Two", "The plot thickens considerably.")},
	)
}
