package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// maxEntrySize caps the decompressed size of a single archive entry, as a
// guard against zip bombs.
const maxEntrySize int64 = 256 * 1024 * 1024

// isSafePath reports whether p is an archive-internal path that does not
// escape the archive root via traversal.
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// resolveRelative resolves href against the directory of basePath. Both are
// forward-slash archive paths. Returns "" when the result would be absolute
// or escape the archive root.
func resolveRelative(basePath, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// splitFragment splits an href into its path and fragment parts.
func splitFragment(href string) (file, fragment string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// readEntry reads the full contents of a ZIP entry, enforcing the size cap
// and rejecting unsafe entry paths.
func readEntry(f *zip.File) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("epub: unsafe archive entry path: %s", f.Name)
	}
	if f.UncompressedSize64 > uint64(maxEntrySize) {
		return nil, fmt.Errorf("epub: entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	// Read one byte past the cap so a forged declared size is still caught.
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("epub: entry %s exceeds size limit", f.Name)
	}
	return data, nil
}
