// Package sanitize normalizes untrusted names: vector collection identifiers
// and uploaded file names.
//
// Collection names in vector stores (Qdrant, chromem) must match: ^[a-z0-9_]{1,64}$
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxIdentifierLength is the maximum length of a collection name.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated names.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"

	// MaxFilenameLength bounds stored upload names, extension included.
	MaxFilenameLength = 128

	// DefaultFilename is used when an upload name has nothing usable.
	DefaultFilename = "upload.pdf"
)

// Identifier sanitizes a string for use as a collection name.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Docqa Documents" -> "docqa_documents"
//	"reports-2024"    -> "reports_2024"
//	"" or "!!!"       -> "default"
func Identifier(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	sanitized := strings.Trim(collapse(b.String(), '_'), "_")
	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized, MaxIdentifierLength)
	}
	return sanitized
}

// Filename makes a client-supplied upload name safe to join onto the upload
// directory. Directory components are dropped, characters outside letters,
// digits, '.', '-' and '_' become '_', and leading dots are removed so the
// result is never hidden or a relative path element. Long names keep their
// extension and get a hash suffix.
//
// Examples:
//
//	"../../etc/passwd"    -> "passwd"
//	"Q3 report (v2).pdf"  -> "Q3_report_v2_.pdf"
//	""                    -> "upload.pdf"
func Filename(name string) string {
	// both separators, whatever the host OS
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base("/" + name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	sanitized := strings.TrimLeft(collapse(b.String(), '_'), "._")
	if sanitized == "" || strings.Trim(sanitized, "._-") == "" {
		return DefaultFilename
	}

	if len(sanitized) > MaxFilenameLength {
		ext := filepath.Ext(sanitized)
		if len(ext) > 16 {
			ext = ""
		}
		base := strings.TrimSuffix(sanitized, ext)
		sanitized = truncateWithHash(base, MaxFilenameLength-len(ext)) + ext
	}
	return sanitized
}

func collapse(s string, r byte) string {
	double := string([]byte{r, r})
	for strings.Contains(s, double) {
		s = strings.ReplaceAll(s, double, string(r))
	}
	return s
}

// truncateWithHash truncates s to limit bytes, appending a hash of the
// original to keep distinct inputs distinct.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string, limit int) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := strings.TrimRight(s[:limit-HashSuffixLength], "_")
	return truncated + hashSuffix
}
