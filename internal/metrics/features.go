package metrics

import (
	"strings"
	"unicode/utf8"
)

// FeaturesVersion is bumped whenever a field is added or its counting rule
// changes, so event consumers can tell samples apart.
const FeaturesVersion = "2"

// Features holds basic local text features derived from a reply.
type Features struct {
	Bytes      int
	Runes      int
	Words      int
	Lines      int
	Paragraphs int
}

// CountFeatures computes byte, rune, word, line and paragraph counts for s.
func CountFeatures(s string) Features {
	return Features{
		Bytes:      len(s),
		Runes:      utf8.RuneCountInString(s),
		Words:      len(strings.Fields(s)),
		Lines:      countLines(s),
		Paragraphs: countParagraphs(s),
	}
}

// countLines returns 0 for empty strings; otherwise 1 plus the number of '\n' runes.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return 1 + strings.Count(s, "\n")
}

// countParagraphs counts runs of non-blank lines separated by blank lines.
func countParagraphs(s string) int {
	n := 0
	inPara := false
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			inPara = false
			continue
		}
		if !inPara {
			n++
			inPara = true
		}
	}
	return n
}
