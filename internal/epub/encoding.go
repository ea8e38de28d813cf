package epub

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	xmlEncodingPattern = regexp.MustCompile(`(?i)<\?xml[^>]*encoding=["']([^"']+)["']`)
	metaCharsetPattern = regexp.MustCompile(`(?i)<meta[^>]*charset=["']?([a-zA-Z0-9_\-]+)`)
	contentTypePattern = regexp.MustCompile(`(?i)content=["'][^"']*charset=([a-zA-Z0-9_\-]+)`)
	sniffWindow        = 1024
)

// decodeDocument converts raw content-document bytes to a UTF-8 string.
// UTF-8 input passes through unchanged. Otherwise the declared or sniffed
// charset is tried; as a last resort undecodable byte sequences are replaced
// with U+FFFD and replaced reports true.
func decodeDocument(data []byte) (text string, replaced bool) {
	data = stripBOM(data)

	// UTF-16 with BOM.
	if len(data) >= 2 {
		if data[0] == 0xFE && data[1] == 0xFF {
			if out, ok := decodeWith(data, "utf-16be"); ok {
				return out, false
			}
		}
		if data[0] == 0xFF && data[1] == 0xFE {
			if out, ok := decodeWith(data, "utf-16le"); ok {
				return out, false
			}
		}
	}

	if utf8.Valid(data) {
		return string(data), false
	}

	if name := sniffCharset(data); name != "" {
		if out, ok := decodeWith(data, name); ok {
			return out, false
		}
	}

	return strings.ToValidUTF8(string(data), "�"), true
}

// sniffCharset looks for a declared charset in the XML declaration or an
// HTML meta tag within the first kilobyte of the document.
func sniffCharset(data []byte) string {
	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	for _, pat := range []*regexp.Regexp{xmlEncodingPattern, metaCharsetPattern, contentTypePattern} {
		if m := pat.FindSubmatch(window); m != nil {
			return strings.ToLower(string(bytes.TrimSpace(m[1])))
		}
	}
	return ""
}

// decodeWith decodes data using the named charset. Returns ok=false when the
// charset is unknown or the decoded result still is not valid UTF-8.
func decodeWith(data []byte, name string) (string, bool) {
	if name == "" || name == "utf-8" || name == "utf8" {
		return string(data), utf8.Valid(data)
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
