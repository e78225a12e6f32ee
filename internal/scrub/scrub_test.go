package scrub_test

import (
	"strings"
	"testing"

	"github.com/petasbytes/go-assistant/internal/scrub"
)

func TestMarkers_RemovesEveryOccurrence(t *testing.T) {
	text := "Lahore is warm【4:0†weather.json】. Karachi too【4:0†weather.json】."
	got := scrub.Markers(text, []string{"【4:0†weather.json】"})
	want := "Lahore is warm. Karachi too."
	if got != want {
		t.Fatalf("Markers() = %q, want %q", got, want)
	}
}

func TestMarkers_LeavesSurroundingBytesIntact(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		markers []string
		want    string
	}{
		{"no markers", "  plain text \n", nil, "  plain text \n"},
		{"marker absent", "plain text", []string{"[x]"}, "plain text"},
		{"whitespace kept", "a \t[m]\n b", []string{"[m]"}, "a \t\n b"},
		{"empty marker ignored", "abc", []string{""}, "abc"},
		{"several markers", "x[1]y[2]z", []string{"[1]", "[2]"}, "xyz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scrub.Markers(tc.text, tc.markers); got != tc.want {
				t.Fatalf("Markers(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestCitations_Pattern(t *testing.T) {
	cases := map[string]string{
		"It is 30C【4:0†source】 today.": "It is 30C today.",
		"ascii [12:3†notes.txt] form":   "ascii  form",
		"no citation [1] here":          "no citation [1] here",
		"dagger alone † stays":          "dagger alone † stays",
		"":                              "",
	}
	for in, want := range cases {
		if got := scrub.Citations(in); got != want {
			t.Errorf("Citations(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStream_PassesPlainDeltasThrough(t *testing.T) {
	var s scrub.Stream
	for _, d := range []string{"The ", "weather ", "is fine."} {
		if got := s.Push(d); got != d {
			t.Fatalf("Push(%q) = %q", d, got)
		}
	}
	if tail := s.Flush(); tail != "" {
		t.Fatalf("unexpected tail %q", tail)
	}
}

func TestStream_MarkerSplitAcrossDeltas(t *testing.T) {
	var s scrub.Stream
	var out strings.Builder
	for _, d := range []string{"It is 30C", "【4:", "0†sou", "rce】", " in Lahore."} {
		out.WriteString(s.Push(d))
	}
	out.WriteString(s.Flush())
	if got, want := out.String(), "It is 30C in Lahore."; got != want {
		t.Fatalf("stream output = %q, want %q", got, want)
	}
}

func TestStream_UnclosedMarkerReleasedOnFlush(t *testing.T) {
	var s scrub.Stream
	first := s.Push("see 【4:0†sr")
	if first != "see " {
		t.Fatalf("Push = %q, want marker prefix held", first)
	}
	if tail := s.Flush(); tail != "【4:0†sr" {
		t.Fatalf("Flush = %q", tail)
	}
}

func TestStream_OrdinaryBracketsNotHeld(t *testing.T) {
	for _, d := range []string{"see [the docs", "list [a", "[4:x", "[12:3 is"} {
		var s scrub.Stream
		if got := s.Push(d); got != d {
			t.Errorf("Push(%q) = %q, want it released", d, got)
		}
	}
}

func TestStream_PartialMarkerPrefixesHeld(t *testing.T) {
	for _, d := range []string{"a【", "a[", "a[4", "a[4:", "a【4:0", "a[4:0†", "a【12:3†file"} {
		var s scrub.Stream
		if got := s.Push(d); got != "a" {
			t.Errorf("Push(%q) = %q, want %q", d, got, "a")
		}
	}
}

func TestStream_LongUnclosedTextNotHeld(t *testing.T) {
	var s scrub.Stream
	long := "[1:2†" + strings.Repeat("x", 100)
	if got := s.Push(long); got != long {
		t.Fatalf("long unclosed text should be released, got %q", got)
	}
}
