package epub

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// opfPackage models the root <package> element of the package document.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string       `xml:"toc,attr"`
		ItemRefs []opfItemRef `xml:"itemref"`
	} `xml:"spine"`
}

type opfMetadata struct {
	Titles    []string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators  []string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages []string `xml:"http://purl.org/dc/elements/1.1/ language"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// manifestItem is one validated manifest entry.
type manifestItem struct {
	ID         string
	Href       string // archive path, resolved against the package directory
	MediaType  string
	Properties string
}

// hasProperty reports whether the item's space-separated properties contain p.
func (m *manifestItem) hasProperty(p string) bool {
	for _, prop := range strings.Fields(m.Properties) {
		if prop == p {
			return true
		}
	}
	return false
}

// spineEntry is one validated reading-order entry. Every entry references a
// manifest item that exists; dangling itemrefs are dropped during parsing.
type spineEntry struct {
	ItemID string
	Linear bool
}

// packageDoc is the validated output of the package parser: manifest, spine,
// and metadata, with structural invariants checked once up front.
type packageDoc struct {
	Version  string
	Title    string
	Author   string
	Language string

	Items []manifestItem // document order, duplicates removed
	byID  map[string]*manifestItem

	Spine []spineEntry
	TocID string // spine toc attribute (legacy navigation-control document)
}

// item returns the manifest item with the given id, or nil.
func (p *packageDoc) item(id string) *manifestItem {
	return p.byID[id]
}

// navItem returns the manifest item flagged as the navigation document, or nil.
func (p *packageDoc) navItem() *manifestItem {
	for i := range p.Items {
		if p.Items[i].hasProperty("nav") {
			return &p.Items[i]
		}
	}
	return nil
}

// parsePackage parses the package document into a validated packageDoc.
// Recoverable structural issues (duplicate manifest ids, dangling spine
// references) are reported through warn and the offending entity dropped.
func parsePackage(c *container, warn func(code, detail string)) (*packageDoc, error) {
	data, err := c.read(c.rootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingRootFile, err)
	}

	var raw opfPackage
	if err := xml.Unmarshal(stripBOM(preprocessEntities(data)), &raw); err != nil {
		return nil, fmt.Errorf("%w: parse package document: %v", ErrInvalidArchive, err)
	}
	if raw.Version == "" {
		raw.Version = "2.0"
	}

	doc := &packageDoc{
		Version: raw.Version,
		TocID:   raw.Spine.Toc,
		// Preallocate so byID pointers into Items stay valid across appends.
		Items: make([]manifestItem, 0, len(raw.Manifest.Items)),
		byID:  make(map[string]*manifestItem, len(raw.Manifest.Items)),
	}

	for _, it := range raw.Manifest.Items {
		if it.ID == "" || it.Href == "" {
			continue
		}
		if _, dup := doc.byID[it.ID]; dup {
			// First occurrence wins; the duplicate is recorded as discarded.
			warn(WarnDuplicateManifestID, fmt.Sprintf("manifest id %q declared again for href %q; duplicate discarded", it.ID, it.Href))
			continue
		}
		doc.Items = append(doc.Items, manifestItem{
			ID:         it.ID,
			Href:       c.resolve(it.Href),
			MediaType:  it.MediaType,
			Properties: it.Properties,
		})
		doc.byID[it.ID] = &doc.Items[len(doc.Items)-1]
	}

	for _, ref := range raw.Spine.ItemRefs {
		if _, ok := doc.byID[ref.IDRef]; !ok {
			warn(WarnDanglingSpineReference, fmt.Sprintf("spine itemref %q has no manifest item; entry skipped", ref.IDRef))
			continue
		}
		doc.Spine = append(doc.Spine, spineEntry{
			ItemID: ref.IDRef,
			Linear: ref.Linear != "no",
		})
	}

	if len(raw.Metadata.Titles) > 0 {
		doc.Title = strings.TrimSpace(raw.Metadata.Titles[0])
	}
	if len(raw.Metadata.Languages) > 0 {
		doc.Language = strings.TrimSpace(raw.Metadata.Languages[0])
	}
	var authors []string
	for _, cr := range raw.Metadata.Creators {
		if cr = strings.TrimSpace(cr); cr != "" {
			authors = append(authors, cr)
		}
	}
	doc.Author = strings.Join(authors, ", ")

	return doc, nil
}

// entityReplacements maps HTML named entities to numeric references so that
// encoding/xml can parse OPF and NCX files that use them.
var entityReplacements = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;",
	"hellip": "&#8230;", "copy": "&#169;", "reg": "&#174;",
	"lsquo": "&#8216;", "rsquo": "&#8217;",
	"ldquo": "&#8220;", "rdquo": "&#8221;",
	"eacute": "&#233;", "egrave": "&#232;", "ouml": "&#246;",
	"uuml": "&#252;", "auml": "&#228;", "ntilde": "&#241;",
	"ccedil": "&#231;", "deg": "&#176;", "sect": "&#167;",
}

var entityPattern = regexp.MustCompile(`(?i)&([a-z]+);`)

// preprocessEntities replaces known HTML named entities with numeric
// character references. Unknown entities are left untouched.
func preprocessEntities(data []byte) []byte {
	return entityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		switch name {
		case "amp", "lt", "gt", "quot", "apos":
			return match // valid XML entities
		}
		if repl, ok := entityReplacements[name]; ok {
			return []byte(repl)
		}
		return match
	})
}
