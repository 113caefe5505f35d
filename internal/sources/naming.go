package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// maxBaseLen caps the readable part of a name so the whole key stays well
	// under common filesystem component limits.
	maxBaseLen = 96
	hashLen    = 8
)

// NameFor maps a spec to its output directory name:
//
//	<kind>_<sanitized locator fields>_<first 8 hex chars of sha256(locator)>
//
// The readable part keeps only ASCII letters and digits. The suffix hashes the
// unsanitized locator, so specs that sanitize to the same text still differ.
func NameFor(spec Spec) string {
	loc := spec.Locator()

	parts := []string{sanitize(string(spec.Kind()))}
	for _, f := range loc {
		if s := sanitize(f); s != "" {
			parts = append(parts, s)
		}
	}
	base := strings.Join(parts, "_")
	if len(base) > maxBaseLen {
		base = strings.TrimRight(base[:maxBaseLen], "_")
	}
	if base == "" {
		base = "source"
	}

	h := sha256.New()
	h.Write([]byte(spec.Kind()))
	for _, f := range loc {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return base + "_" + hex.EncodeToString(h.Sum(nil))[:hashLen]
}

// sanitize replaces every run of characters outside [A-Za-z0-9] with a
// single underscore and trims underscores from both ends.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteByte(c)
			continue
		}
		pending = true
	}
	return b.String()
}
