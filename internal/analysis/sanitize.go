package analysis

import (
	"path/filepath"
	"strings"
	"unicode"
)

// MaxNameLen caps stored file and display names.
const MaxNameLen = 255

// SanitizeFileName reduces an uploaded filename to a safe, stable identity:
// path components are stripped (multipart filenames are client-controlled),
// control characters dropped, and anything outside a conservative rune set
// replaced with underscores. Falls back to fallback when nothing survives.
func SanitizeFileName(name, fallback string) string {
	base := filepath.Base(filepath.ToSlash(name))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}

	var b strings.Builder
	for _, r := range base {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	runes := []rune(cleaned)
	if len(runes) > MaxNameLen {
		cleaned = string(runes[:MaxNameLen])
	}
	if cleaned == "" || strings.Trim(cleaned, "._ ") == "" {
		return fallback
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
