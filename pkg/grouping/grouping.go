// Package grouping derives the stable fingerprint that identifies an error
// group. Occurrences of the same logical error must hash identically even
// when their titles embed timestamps, addresses, ids or counters.
package grouping

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reNumber     = regexp.MustCompile(`\b\d+\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

const maxNormalizedLen = 500

// Hash returns the stable group fingerprint for an error title: the hex
// SHA-256 of its normalized form.
func Hash(title string) string {
	sum := sha256.Sum256([]byte(NormalizeTitle(title)))
	return fmt.Sprintf("%x", sum)
}

// NormalizeTitle strips the volatile parts of an error title: datetimes,
// hex addresses, UUIDs and bare numbers become placeholders, whitespace is
// collapsed, and the result is lowercased and bounded.
func NormalizeTitle(title string) string {
	title = reDatetime.ReplaceAllString(title, "DATETIME")
	title = reHexAddr.ReplaceAllString(title, "0xADDR")
	title = reUUID.ReplaceAllString(title, "UUID")
	title = reNumber.ReplaceAllString(title, "N")
	title = reWhitespace.ReplaceAllString(title, " ")
	title = strings.ToLower(title)
	title = strings.TrimSpace(title)
	return truncate(title, maxNormalizedLen)
}

// truncate cuts s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
