package ingest

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const genericMIME = "application/octet-stream"

// ResolveMIME returns the declared content type without parameters. When the
// client sent nothing useful the type is sniffed from the first bytes.
func ResolveMIME(declared string, head []byte) string {
	mt := normalizeMIME(declared)
	if mt != "" && mt != genericMIME {
		return mt
	}
	if len(head) == 0 {
		return genericMIME
	}
	return normalizeMIME(mimetype.Detect(head).String())
}

func normalizeMIME(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(v)
	}
	return mt
}

// extensionFor keeps a short alphanumeric extension from the client filename
// and otherwise falls back to the canonical extension of the MIME type.
func extensionFor(filename, mimeType string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext != "" && len(ext) <= 10 && isAlnum(ext) {
		return ext
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return ""
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
