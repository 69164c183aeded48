package pipeline

import (
	"encoding/base64"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DecodeBody undoes the provider's base64url transfer encoding. Anything that
// does not decode to readable UTF-8 text is assumed to be plain text already
// and returned unchanged.
func DecodeBody(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}

	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding} {
		decoded, err := enc.DecodeString(trimmed)
		if err != nil {
			continue
		}
		if text := string(decoded); readable(text) {
			return text
		}
	}
	return raw
}

func readable(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
