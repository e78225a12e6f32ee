// Package scrub removes annotation markers from assistant text.
//
// Two forms are supported:
//   - Markers: literal substrings supplied alongside the text (polling path).
//   - Citations: inline citation markers such as 【4:0†source】 recognised by
//     pattern, for streamed deltas that carry no annotation list.
//
// All functions are pure; text without markers is returned unchanged.
package scrub

import (
	"regexp"
	"strings"
)

// citationPattern matches 【N:N†tag】 and the ASCII variant [N:N†tag].
var citationPattern = regexp.MustCompile(`[【\[]\d+:\d+†[^】\]]*[】\]]`)

// Markers removes every occurrence of each marker from text. Empty markers are ignored.
func Markers(text string, markers []string) string {
	for _, m := range markers {
		if m == "" {
			continue
		}
		text = strings.ReplaceAll(text, m, "")
	}
	return text
}

// Citations removes inline citation markers from text.
func Citations(text string) string {
	if !strings.Contains(text, "†") {
		return text
	}
	return citationPattern.ReplaceAllString(text, "")
}
