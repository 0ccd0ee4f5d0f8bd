package features

import (
	"github.com/pkg/errors"

	"github.com/gomlx/go-squad/squad"
	"github.com/gomlx/go-squad/tokenizers"
)

// numSpecialTokens is the packing overhead of one window:
// [CLS] question [SEP] context [SEP].
const numSpecialTokens = 3

// Encoder maps examples to fixed-length windows. The question occupies the
// first segment and is never truncated; only the context is chunked, with
// consecutive chunks of the same example overlapping by Stride tokens.
type Encoder struct {
	tok       tokenizers.TokenizerWithSpans
	maxLength int
	stride    int

	clsID, sepID, padID int32
}

// NewEncoder creates an Encoder producing windows of maxLength tokens whose
// context chunks overlap by stride tokens. The tokenizer must define the
// [CLS], [SEP] and [PAD] special tokens.
func NewEncoder(tok tokenizers.TokenizerWithSpans, maxLength, stride int) (*Encoder, error) {
	if maxLength <= numSpecialTokens {
		return nil, errors.Errorf("maxLength must be > %d, got %d", numSpecialTokens, maxLength)
	}
	if stride < 0 || stride >= maxLength-numSpecialTokens {
		return nil, errors.Errorf("stride must be in [0, maxLength-%d), got stride=%d maxLength=%d",
			numSpecialTokens, stride, maxLength)
	}
	e := &Encoder{tok: tok, maxLength: maxLength, stride: stride}
	for _, special := range []struct {
		token tokenizers.SpecialToken
		dst   *int32
	}{
		{tokenizers.TokClassification, &e.clsID},
		{tokenizers.TokSeparator, &e.sepID},
		{tokenizers.TokPad, &e.padID},
	} {
		id, err := tok.SpecialTokenID(special.token)
		if err != nil {
			return nil, errors.WithMessagef(err, "tokenizer unusable for QA windowing")
		}
		*special.dst = int32(id)
	}
	return e, nil
}

// MaxLength returns the fixed window length.
func (e *Encoder) MaxLength() int { return e.maxLength }

// Encode converts one example into one or more windows.
func (e *Encoder) Encode(ex *squad.Example) ([]*Window, error) {
	if ex.Context == "" {
		return nil, errors.Errorf("example %s: empty context", ex.ID)
	}
	question := e.tok.Encode(ex.Question)
	ctx := e.tok.EncodeWithSpans(ex.Context)

	// Room left for context tokens once the question and specials are packed.
	capacity := e.maxLength - len(question) - numSpecialTokens
	if capacity < 1 {
		return nil, errors.Errorf(
			"example %s: question takes %d tokens, leaving no room for context in windows of %d",
			ex.ID, len(question), e.maxLength)
	}
	// Chunking advances by capacity-stride tokens per window; a long question
	// can shrink capacity below the configured overlap, stalling the walk.
	if len(ctx.IDs) > capacity && capacity <= e.stride {
		return nil, errors.Errorf(
			"example %s: question takes %d tokens, leaving %d context slots per window, too few to advance past the %d-token overlap",
			ex.ID, len(question), capacity, e.stride)
	}

	var windows []*Window
	for start := 0; ; start += capacity - e.stride {
		end := min(start+capacity, len(ctx.IDs))
		windows = append(windows, e.buildWindow(ex.ID, question, ctx, start, end))
		if end == len(ctx.IDs) {
			break
		}
	}
	return windows, nil
}

// buildWindow packs [CLS] question [SEP] context[start:end] [SEP] plus
// padding into one fixed-length window.
func (e *Encoder) buildWindow(exampleID string, question []int, ctx tokenizers.Encoding, start, end int) *Window {
	w := &Window{
		ExampleID:  exampleID,
		IDs:        make([]int32, 0, e.maxLength),
		SegmentIDs: make([]int32, 0, e.maxLength),
		Mask:       make([]int32, 0, e.maxLength),
		Offsets:    make([]tokenizers.Span, 0, e.maxLength),
		HasOffset:  make([]bool, 0, e.maxLength),
	}
	push := func(id, segment int32, mask int32, span tokenizers.Span, hasOffset bool) {
		w.IDs = append(w.IDs, id)
		w.SegmentIDs = append(w.SegmentIDs, segment)
		w.Mask = append(w.Mask, mask)
		w.Offsets = append(w.Offsets, span)
		w.HasOffset = append(w.HasOffset, hasOffset)
	}

	push(e.clsID, SegmentQuestion, 1, tokenizers.Span{}, false)
	for _, id := range question {
		push(int32(id), SegmentQuestion, 1, tokenizers.Span{}, false)
	}
	push(e.sepID, SegmentQuestion, 1, tokenizers.Span{}, false)

	w.ContextStart = len(w.IDs)
	for i := start; i < end; i++ {
		push(int32(ctx.IDs[i]), SegmentContext, 1, ctx.Spans[i], true)
	}
	w.ContextEnd = len(w.IDs) - 1
	push(e.sepID, SegmentContext, 1, tokenizers.Span{}, false)

	for len(w.IDs) < e.maxLength {
		push(e.padID, SegmentQuestion, 0, tokenizers.Span{}, false)
	}
	return w
}
