package sentence

// Segment is a piece of rendered text, highlighted or not.
type Segment struct {
	Text        string `json:"text"`
	Highlighted bool   `json:"highlighted"`
}

// Highlight cuts text into the part before [start, end), the highlighted part
// and the part after. Empty outer parts are omitted. Offsets are clamped to
// the text.
func Highlight(text string, start, end int) []Segment {
	if text == "" {
		return []Segment{{Text: text}}
	}
	start = clamp(start, 0, len(text))
	end = clamp(end, start, len(text))

	segments := make([]Segment, 0, 3)
	if start > 0 {
		segments = append(segments, Segment{Text: text[:start]})
	}
	segments = append(segments, Segment{Text: text[start:end], Highlighted: true})
	if end < len(text) {
		segments = append(segments, Segment{Text: text[end:]})
	}
	return segments
}

// HighlightSpan highlights spans[index]. An index of -1 or out of range
// yields the whole text unhighlighted.
func HighlightSpan(text string, spans []Span, index int) []Segment {
	if index < 0 || index >= len(spans) {
		return []Segment{{Text: text}}
	}
	return Highlight(text, spans[index].Start, spans[index].End)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
