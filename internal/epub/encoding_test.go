package epub

import (
	"strings"
	"testing"
)

func TestDecodeDocument_UTF8Passthrough(t *testing.T) {
	in := "<p>héllo wörld</p>"
	out, replaced := decodeDocument([]byte(in))
	if replaced {
		t.Error("valid UTF-8 reported as replaced")
	}
	if out != in {
		t.Errorf("out = %q, want unchanged", out)
	}
}

func TestDecodeDocument_DeclaredLatin1(t *testing.T) {
	doc := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><p>caf`), 0xE9)
	doc = append(doc, []byte(`</p>`)...)
	out, replaced := decodeDocument(doc)
	if replaced {
		t.Error("decodable document reported as replaced")
	}
	if !strings.Contains(out, "café") {
		t.Errorf("out = %q, want decoded é", out)
	}
}

func TestDecodeDocument_UndeclaredInvalidBytes(t *testing.T) {
	doc := []byte{'<', 'p', '>', 0xFF, 0xFE, 0xFD, '<', '/', 'p', '>'}
	out, replaced := decodeDocument(doc)
	if !replaced {
		t.Error("undecodable bytes not reported as replaced")
	}
	if !strings.Contains(out, "�") {
		t.Errorf("out = %q, want replacement runes", out)
	}
}

func TestDecodeDocument_BOMStripped(t *testing.T) {
	doc := append([]byte{0xEF, 0xBB, 0xBF}, []byte("<p>x</p>")...)
	out, _ := decodeDocument(doc)
	if out != "<p>x</p>" {
		t.Errorf("out = %q, want BOM removed", out)
	}
}
