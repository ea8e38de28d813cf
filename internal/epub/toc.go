package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hondana/yomu/internal/models"
)

// rawTocNode is a TOC entry as parsed from the navigation source, before
// targets are resolved to chapter ids. Href is an archive path, possibly
// with a fragment.
type rawTocNode struct {
	Label    string
	Href     string
	Children []rawTocNode
}

// resolveTOC locates the navigation source and parses it into a TocEntry
// tree. EPUB3 navigation documents take precedence; the legacy
// navigation-control document (NCX) referenced by the spine toc attribute is
// the fallback. Returns found=false when no navigation source exists, in
// which case the caller synthesizes a flat TOC from the chapters.
func resolveTOC(c *container, doc *packageDoc, chapterByPath map[string]string, warn func(code, detail string)) (toc []models.TocEntry, found bool) {
	var nodes []rawTocNode

	if nav := doc.navItem(); nav != nil {
		if parsed, ok := parseNavDoc(c, nav.Href, warn); ok {
			nodes = parsed
			found = true
		}
	}
	if !found && doc.TocID != "" {
		if ncx := doc.item(doc.TocID); ncx != nil {
			if parsed, ok := parseNCX(c, ncx.Href, warn); ok {
				nodes = parsed
				found = true
			}
		}
	}
	if !found {
		return nil, false
	}
	return resolveTocNodes(nodes, chapterByPath, warn), true
}

// resolveTocNodes maps raw TOC nodes to chapter targets. An entry whose
// target does not resolve to a chapter is dropped and its children promoted
// in its place, preserving siblings.
func resolveTocNodes(nodes []rawTocNode, chapterByPath map[string]string, warn func(code, detail string)) []models.TocEntry {
	var out []models.TocEntry
	for _, n := range nodes {
		children := resolveTocNodes(n.Children, chapterByPath, warn)
		file, frag := splitFragment(n.Href)
		chapterID, ok := chapterByPath[file]
		if !ok {
			warn(WarnUnresolvableTocTarget, fmt.Sprintf("entry %q targets %q which is not a readable chapter; entry dropped", n.Label, n.Href))
			out = append(out, children...)
			continue
		}
		out = append(out, models.TocEntry{
			Label:     n.Label,
			ChapterID: chapterID,
			Fragment:  frag,
			Children:  children,
		})
	}
	return out
}

// synthesizeTOC builds a flat TOC with one entry per chapter, in spine
// order, for books without any navigation source.
func synthesizeTOC(chapters []*models.Chapter) []models.TocEntry {
	out := make([]models.TocEntry, 0, len(chapters))
	for _, ch := range chapters {
		out = append(out, models.TocEntry{
			Label:     ch.Title,
			ChapterID: ch.ID,
		})
	}
	return out
}

// --- NCX (legacy navigation-control document) ---

type ncxDocument struct {
	XMLName xml.Name `xml:"ncx"`
	NavMap  struct {
		NavPoints []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// parseNCX reads and parses the NCX file at ncxPath.
func parseNCX(c *container, ncxPath string, warn func(code, detail string)) ([]rawTocNode, bool) {
	data, err := c.read(ncxPath)
	if err != nil {
		warn(WarnUnresolvableTocTarget, fmt.Sprintf("navigation-control document unreadable: %v", err))
		return nil, false
	}
	var doc ncxDocument
	if err := xml.Unmarshal(stripBOM(preprocessEntities(data)), &doc); err != nil {
		warn(WarnUnresolvableTocTarget, fmt.Sprintf("navigation-control document unparsable: %v", err))
		return nil, false
	}
	return convertNavPoints(doc.NavMap.NavPoints, ncxPath), true
}

func convertNavPoints(points []ncxNavPoint, ncxPath string) []rawTocNode {
	if len(points) == 0 {
		return nil
	}
	nodes := make([]rawTocNode, 0, len(points))
	for _, np := range points {
		nodes = append(nodes, rawTocNode{
			Label:    strings.TrimSpace(np.Label.Text),
			Href:     resolveRelative(ncxPath, np.Content.Src),
			Children: convertNavPoints(np.Children, ncxPath),
		})
	}
	return nodes
}

// --- EPUB3 navigation document ---

// parseNavDoc parses the XHTML navigation document at navPath, reading the
// <nav epub:type="toc"> element.
func parseNavDoc(c *container, navPath string, warn func(code, detail string)) ([]rawTocNode, bool) {
	data, err := c.read(navPath)
	if err != nil {
		warn(WarnUnresolvableTocTarget, fmt.Sprintf("navigation document unreadable: %v", err))
		return nil, false
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		warn(WarnUnresolvableTocTarget, fmt.Sprintf("navigation document unparsable: %v", err))
		return nil, false
	}

	var tocNav *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if tocNav != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav && hasEpubType(n, "toc") {
			tocNav = n
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	if tocNav == nil {
		return nil, false
	}
	ol := findDescendant(tocNav, atom.Ol)
	if ol == nil {
		return nil, false
	}
	return parseNavList(ol, navPath), true
}

func parseNavList(ol *html.Node, basePath string) []rawTocNode {
	var nodes []rawTocNode
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		nodes = append(nodes, parseNavItem(li, basePath))
	}
	return nodes
}

// parseNavItem reads one <li>: the first <a> gives label and target (a
// <span> may stand in for label-only entries), a nested <ol> gives children.
func parseNavItem(li *html.Node, basePath string) rawTocNode {
	var node rawTocNode
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.A:
			if node.Href == "" {
				node.Href = resolveRelative(basePath, attrValue(c, "href"))
				node.Label = strings.TrimSpace(textContent(c))
			}
		case atom.Span:
			if node.Label == "" {
				node.Label = strings.TrimSpace(textContent(c))
			}
		case atom.Ol:
			node.Children = parseNavList(c, basePath)
		}
	}
	return node
}

// hasEpubType reports whether n's epub:type attribute contains the given
// token (space-separated matching).
func hasEpubType(n *html.Node, want string) bool {
	for _, t := range strings.Fields(attrValue(n, "epub:type")) {
		if t == want {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findDescendant(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findDescendant(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textContent collects all text under n.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
