package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// containerPath is the fixed location of the container descriptor.
const containerPath = "META-INF/container.xml"

// container is a handle over an opened EPUB archive with the root package
// document located. It resolves archive-relative paths for the rest of the
// ingestion pipeline and does not outlive the ingestion call.
type container struct {
	files    map[string]*zip.File // exact-match entry index
	filesLC  map[string]*zip.File // lowercase fallback index
	rootPath string               // package document path
	rootDir  string               // directory of the package document
}

// containerXML models META-INF/container.xml.
type containerXML struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// openContainer opens the archive bytes and locates the package document by
// following the container descriptor's declared root-file path.
func openContainer(data []byte) (*container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	c := &container{
		files:   make(map[string]*zip.File, len(zr.File)),
		filesLC: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if _, ok := c.files[f.Name]; !ok {
			c.files[f.Name] = f // first entry wins
		}
		lower := strings.ToLower(f.Name)
		if _, ok := c.filesLC[lower]; !ok {
			c.filesLC[lower] = f
		}
	}

	desc := c.find(containerPath)
	if desc == nil {
		return nil, ErrMissingContainerDescriptor
	}
	descData, err := readEntry(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingContainerDescriptor, err)
	}

	rootPath, err := parseContainerXML(descData)
	if err != nil {
		return nil, err
	}
	if c.find(rootPath) == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingRootFile, rootPath)
	}

	c.rootPath = rootPath
	c.rootDir = path.Dir(rootPath)
	return c, nil
}

// parseContainerXML returns the full-path of the package document, preferring
// the rootfile declared with the OPF media type.
func parseContainerXML(data []byte) (string, error) {
	var cx containerXML
	if err := xml.Unmarshal(stripBOM(data), &cx); err != nil {
		return "", fmt.Errorf("%w: parse container.xml: %v", ErrMissingContainerDescriptor, err)
	}

	var fallback string
	for _, rf := range cx.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), "application/oebps-package+xml") {
			return fullPath, nil
		}
		if fallback == "" {
			fallback = fullPath
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: container.xml declares no rootfile", ErrMissingRootFile)
	}
	return fallback, nil
}

// find looks up an archive entry by path, exact match first, then
// case-insensitive.
func (c *container) find(name string) *zip.File {
	if f, ok := c.files[name]; ok {
		return f
	}
	if f, ok := c.filesLC[strings.ToLower(name)]; ok {
		return f
	}
	return nil
}

// has reports whether an entry exists at the given archive path.
func (c *container) has(name string) bool {
	return c.find(name) != nil
}

// read returns the contents of the entry at the given archive path.
func (c *container) read(name string) ([]byte, error) {
	f := c.find(name)
	if f == nil {
		return nil, fmt.Errorf("epub: file not found in archive: %s", name)
	}
	return readEntry(f)
}

// resolve resolves an href relative to the package document directory.
func (c *container) resolve(href string) string {
	if href == "" {
		return ""
	}
	if c.rootDir == "." {
		return path.Clean(href)
	}
	return resolveRelative(c.rootPath, href)
}
