package scrub

import (
	"regexp"
	"strings"
)

// maxHeld caps how much unterminated text Stream keeps back. Real citation
// markers are short; anything longer is not a marker and is released.
const maxHeld = 64

// partialCitation matches a tail that may still grow into a citation marker.
var partialCitation = regexp.MustCompile(`^[【\[]\d*(:\d*(†[^】\]]*)?)?$`)

// Stream scrubs citations from a sequence of deltas. A marker may be split
// across deltas, so a trailing fragment that could still become one is held
// until the next Push (or Flush) decides. Other bracketed text, such as a
// markdown link, is released at once.
//
// Stream is not safe for concurrent use.
type Stream struct {
	held string
}

// Push appends delta and returns the text that is safe to emit, scrubbed.
func (s *Stream) Push(delta string) string {
	buf := s.held + delta
	s.held = ""

	if i := openIndex(buf); i >= 0 && len(buf)-i <= maxHeld {
		s.held = buf[i:]
		buf = buf[:i]
	}
	return Citations(buf)
}

// Flush returns any held text, scrubbed, and resets the stream.
func (s *Stream) Flush() string {
	out := Citations(s.held)
	s.held = ""
	return out
}

// openIndex returns the index of the longest trailing citation prefix, or -1.
func openIndex(s string) int {
	for i := 0; i < len(s); {
		j := strings.IndexAny(s[i:], "【[")
		if j < 0 {
			return -1
		}
		i += j
		if partialCitation.MatchString(s[i:]) {
			return i
		}
		i++
	}
	return -1
}
