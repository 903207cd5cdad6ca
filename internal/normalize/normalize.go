// Package normalize canonicalizes restaurant names and locations into stable
// cache keys. Two inputs that differ only in case, punctuation, whitespace,
// or "&" vs "and" map to the same key.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var punctStripper = strings.NewReplacer(".", "", ",", "", "'", "", "-", "")

var titleCaser = cases.Title(language.English)

// Name canonicalizes a restaurant name for use as a cache key. Pure, total,
// and idempotent: Name(Name(x)) == Name(x) for any input.
func Name(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = punctStripper.Replace(s)
	return collapseSpaces(s)
}

// Location canonicalizes a location: lowercase, collapsed whitespace.
// Punctuation and "&" pass through unchanged.
func Location(s string) string {
	return collapseSpaces(strings.ToLower(s))
}

// Title renders a normalized string in title case for display.
func Title(s string) string {
	return titleCaser.String(s)
}

// collapseSpaces trims the string and squeezes internal whitespace runs down
// to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
