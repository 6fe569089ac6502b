// Package search turns raw user search input into a safe, literal,
// case-insensitive filter over event fields. All functions are pure.
package search

import (
	"errors"
	"regexp"
	"regexp/syntax"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxQueryLength bounds search input. Longer input is truncated, not
// rejected.
const MaxQueryLength = 100

// maxQuantifiers caps the number of repetition operators a pattern may
// contain before it is considered unsafe.
const maxQuantifiers = 25

// ErrUnsafePattern is returned for input that fails the ReDoS check.
var ErrUnsafePattern = errors.New("search pattern rejected as unsafe")

// Sanitize validates and escapes raw search input, returning a literal
// regex pattern. The input is truncated to MaxQueryLength, then checked for
// catastrophic-backtracking shapes while still unescaped, then
// metacharacter-escaped. The pre-escaping check is deliberately redundant
// with the escaping: the pattern runs server-side in a backtracking engine,
// and escaping alone does not excuse skipping it.
func Sanitize(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	raw = truncate(raw, MaxQueryLength)
	if !IsSafe(raw) {
		return "", ErrUnsafePattern
	}
	return regexp.QuoteMeta(raw), nil
}

// IsSafe reports whether a pattern is free of catastrophic-backtracking
// shapes: it must parse, contain no nested quantifiers (star height above
// one, e.g. `(a+)+`), and stay under the quantifier cap.
func IsSafe(pattern string) bool {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return false
	}
	return starHeight(re) <= 1 && countQuantifiers(re) <= maxQuantifiers
}

// Fields searched by the free-text filter, OR'd together. Addons and
// context are stored as JSON strings, so a plain regex matches their
// stringified form directly.
var searchedFields = []string{
	"event.payload.title",
	"event.payload.backtrace.file",
	"event.payload.context",
	"event.payload.addons",
}

// Filter builds the case-insensitive OR filter for a sanitized pattern.
// An empty pattern yields nil (no filtering).
func Filter(pattern string) bson.M {
	if pattern == "" {
		return nil
	}
	or := make([]bson.M, 0, len(searchedFields))
	for _, field := range searchedFields {
		or = append(or, bson.M{
			field: primitive.Regex{Pattern: pattern, Options: "i"},
		})
	}
	return bson.M{"$or": or}
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

func starHeight(re *syntax.Regexp) int {
	height := 0
	for _, sub := range re.Sub {
		if h := starHeight(sub); h > height {
			height = h
		}
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		height++
	}
	return height
}

func countQuantifiers(re *syntax.Regexp) int {
	count := 0
	for _, sub := range re.Sub {
		count += countQuantifiers(sub)
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		count++
	}
	return count
}
