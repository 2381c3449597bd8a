// Package normalize produces the two canonical forms of a counterparty name:
// the cache-lookup form and the hash-stable form used for synthetic
// identifiers. Both functions are total and deterministic; blank input yields
// blank output.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// statusMarkers is the fixed table of boundary-anchored status markers carried
// over from the legacy cleansing rules. Order matters: overlapping markers
// ("已注销" vs "注销") must be tried longest-first so the output does not
// depend on which one happens to match.
var statusMarkers = []string{
	"(已注销)",
	"(已吊销)",
	"(已撤销)",
	"(已停用)",
	"(停止使用)",
	"(注销)",
	"(吊销)",
	"(撤销)",
	"(停用)",
	"(作废)",
	"(清算)",
	"(破产)",
	"(迁出)",
}

// bracketFolds unifies the CJK bracket variants the width fold leaves alone.
var bracketFolds = strings.NewReplacer(
	"【", "(",
	"】", ")",
	"〔", "(",
	"〕", ")",
	"〈", "(",
	"〉", ")",
	"《", "(",
	"》", ")",
	"「", "(",
	"」", ")",
	"『", "(",
	"』", ")",
)

// ForCache produces the cache-lookup form of a name: all whitespace removed,
// full-width punctuation folded to half-width, bracket glyphs unified, and
// boundary-anchored status markers stripped. Case is preserved; it is
// business-significant for cache matching.
func ForCache(name string) string {
	s := stripSpace(name)
	if s == "" {
		return ""
	}
	s = width.Narrow.String(s)
	s = bracketFolds.Replace(s)
	return stripMarkers(s)
}

// ForTempID produces the hash-stable form used for synthetic identifier
// generation. Identifier hashing must be case-insensitive even though cache
// matching is not, so this is the cache form lowercased.
func ForTempID(name string) string {
	return strings.ToLower(ForCache(name))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// stripMarkers removes each status marker from the start or end of the name,
// walking the marker table in its fixed order. Markers are only stripped at
// the boundaries; a marker embedded mid-name is part of the name.
func stripMarkers(s string) string {
	for _, m := range statusMarkers {
		for strings.HasPrefix(s, m) {
			s = s[len(m):]
		}
		for strings.HasSuffix(s, m) {
			s = s[:len(s)-len(m)]
		}
	}
	return s
}
