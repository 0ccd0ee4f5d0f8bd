// Package features converts (question, context) pairs into fixed-length
// model windows, and aligns character-offset answer spans to token-index
// labels under truncation and overlap.
//
// A long context is split into several windows overlapping by a configurable
// stride so that an answer near a split boundary appears intact in at least
// one window. Every context token keeps the byte range it came from in the
// original context, which the postprocess package uses to map predicted token
// spans back to text.
package features

import "github.com/gomlx/go-squad/tokenizers"

// SegmentQuestion and SegmentContext tag token positions by origin. Special
// and padding tokens are tagged with the segment of the region they close
// (BERT convention); they are distinguishable by HasOffset being false.
const (
	SegmentQuestion int32 = 0
	SegmentContext  int32 = 1
)

// Window is one fixed-length tokenized slice of a (question, context) pair.
// IDs, SegmentIDs, Mask, Offsets and HasOffset all have the encoder's
// MaxLength. Offsets[i] is only meaningful where HasOffset[i] is true, and
// then refers to byte positions in the owning example's context string.
type Window struct {
	ExampleID string

	IDs        []int32
	SegmentIDs []int32
	Mask       []int32

	Offsets   []tokenizers.Span
	HasOffset []bool

	// ContextStart and ContextEnd delimit (inclusive) the contiguous run of
	// context tokens within the window.
	ContextStart int
	ContextEnd   int
}

// Len returns the fixed window length.
func (w *Window) Len() int { return len(w.IDs) }

// ContextOffset returns the byte span of token i and whether the token has
// one (special, question and padding tokens don't).
func (w *Window) ContextOffset(i int) (tokenizers.Span, bool) {
	if i < 0 || i >= len(w.HasOffset) || !w.HasOffset[i] {
		return tokenizers.Span{}, false
	}
	return w.Offsets[i], true
}
