// Package sentence splits reply text into sentence spans and renders the
// highlighted view of a span.
package sentence

import (
	"regexp"
	"strings"
)

// Span is a sentence inside a message. Start and End are byte offsets into
// the original text with Text == text[Start:End].
type Span struct {
	Text  string
	Start int
	End   int
}

// Len is the span length in characters, the unit used for timing weights.
func (s Span) Len() int {
	return len([]rune(s.Text))
}

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Split returns the sentences of text in order. A sentence is a run of
// non-terminators followed by one or more of '.', '!' or '?'. Trailing text
// without a terminator becomes a final span holding its trimmed text.
func Split(text string) []Span {
	if text == "" {
		return nil
	}

	var spans []Span
	last := 0
	for _, match := range sentencePattern.FindAllString(text, -1) {
		if strings.TrimSpace(match) == "" {
			continue
		}
		start := indexFrom(text, match, last)
		if start < 0 {
			continue
		}
		spans = append(spans, Span{Text: match, Start: start, End: start + len(match)})
		last = start + len(match)
	}

	if remaining := strings.TrimSpace(text[last:]); remaining != "" {
		start := indexFrom(text, remaining, last)
		spans = append(spans, Span{Text: remaining, Start: start, End: start + len(remaining)})
	}
	return spans
}

func indexFrom(text, sub string, from int) int {
	i := strings.Index(text[from:], sub)
	if i < 0 {
		return -1
	}
	return from + i
}
