// Package timing estimates when each sentence of a reply is spoken.
//
// The estimate assumes speech time is proportional to character count. It is
// an approximation: real synthesis varies with punctuation, numbers and
// prosody, so highlights can drift within a long message.
package timing

import "chatvoice/internal/domain/sentence"

// Estimate splits total seconds across spans proportionally to their length.
// An empty list or zero total length yields nil.
func Estimate(spans []sentence.Span, total float64) []float64 {
	if len(spans) == 0 {
		return nil
	}
	sum := 0
	for _, s := range spans {
		sum += s.Len()
	}
	if sum == 0 {
		return nil
	}

	out := make([]float64, len(spans))
	for i, s := range spans {
		out[i] = total * float64(s.Len()) / float64(sum)
	}
	return out
}

// Locate maps elapsed seconds to the first sentence whose cumulative end time
// is at or after elapsed. It returns -1 once elapsed is past the last one.
func Locate(timings []float64, elapsed float64) int {
	sum := 0.0
	for i, t := range timings {
		sum += t
		if elapsed <= sum {
			return i
		}
	}
	return -1
}
