// Package sentencepiece adapts the SentencePiece tokenizer (as used by
// ALBERT-style QA models) to the tokenizers interfaces, including byte-span
// recovery against the original text.
package sentencepiece

import (
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"

	"github.com/gomlx/go-squad/tokenizers"
)

// metaspace is U+2581 (lower one eighth block), SentencePiece's space marker.
const metaspace = "▁"

// processor is the piece-level surface of esentencepiece.Processor, split out
// so tests can drive the adapter with fixed pieces.
type processor interface {
	Encode(text string) []esentencepiece.Token
	Decode(ids []int) string
}

// Options names the control pieces the model proto itself does not. ALBERT
// vocabularies define [CLS], [SEP] and [MASK] as control pieces whose ids
// live in the model's tokenizer configuration, not in the proto, so callers
// supply them here. Negative means the piece is not defined.
type Options struct {
	ClassificationID int
	SeparatorID      int
	MaskID           int
}

// Tokenizer implements tokenizers.TokenizerWithSpans on top of a
// SentencePiece model proto ("tokenizer.model" / "spiece.model" files).
type Tokenizer struct {
	proc processor
	opts Options

	unkID, padID, bosID, eosID int
}

var (
	_ tokenizers.Tokenizer          = &Tokenizer{}
	_ tokenizers.TokenizerWithSpans = &Tokenizer{}
)

// New creates a SentencePiece tokenizer from a serialized model proto file.
func New(modelPath string, opts Options) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load SentencePiece model from %q", modelPath)
	}
	info := proc.ModelInfo()
	return &Tokenizer{
		proc:  proc,
		opts:  opts,
		unkID: info.UnknownID,
		padID: info.PadID,
		bosID: info.BeginningOfSentenceID,
		eosID: info.EndOfSentenceID,
	}, nil
}

// Encode returns the text encoded into a sequence of token ids.
func (t *Tokenizer) Encode(text string) []int {
	pieces := t.proc.Encode(text)
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		ids[i] = p.ID
	}
	return ids
}

// EncodeWithSpans tokenizes text and recovers, per piece, the byte span of
// the original text. SentencePiece reports pieces (with the metaspace marker
// standing in for word boundaries) but no offsets, so spans are recovered by
// matching each piece's content forward in the original string. Pieces whose
// content cannot be located (e.g. byte-fallback of un-encodable input) get an
// empty span at the current scan position, which keeps spans monotonic.
func (t *Tokenizer) EncodeWithSpans(text string) tokenizers.Encoding {
	pieces := t.proc.Encode(text)
	enc := tokenizers.Encoding{
		IDs:   make([]int, len(pieces)),
		Spans: make([]tokenizers.Span, len(pieces)),
	}

	pos := 0
	for i, piece := range pieces {
		enc.IDs[i] = piece.ID

		content, hadMetaspace := strings.CutPrefix(piece.Text, metaspace)
		if hadMetaspace {
			// The marker swallows the preceding whitespace run.
			for pos < len(text) && isSpaceByte(text[pos]) {
				pos++
			}
		}
		if content == "" {
			enc.Spans[i] = tokenizers.Span{Start: pos, End: pos}
			continue
		}

		if idx := strings.Index(text[pos:], content); idx >= 0 {
			start := pos + idx
			pos = start + len(content)
			enc.Spans[i] = tokenizers.Span{Start: start, End: pos}
			continue
		}
		enc.Spans[i] = tokenizers.Span{Start: pos, End: pos}
	}
	return enc
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Decode returns the text from a sequence of token ids.
func (t *Tokenizer) Decode(ids []int) string {
	return t.proc.Decode(ids)
}

// SpecialTokenID returns the id for the given special token. Unknown, pad,
// BOS and EOS come from the model proto; the [CLS]/[SEP]/[MASK] control
// pieces come from Options.
func (t *Tokenizer) SpecialTokenID(token tokenizers.SpecialToken) (int, error) {
	id := -1
	switch token {
	case tokenizers.TokUnknown:
		id = t.unkID
	case tokenizers.TokPad:
		id = t.padID
	case tokenizers.TokBeginningOfSentence:
		id = t.bosID
	case tokenizers.TokEndOfSentence:
		id = t.eosID
	case tokenizers.TokClassification:
		id = t.opts.ClassificationID
	case tokenizers.TokSeparator:
		id = t.opts.SeparatorID
	case tokenizers.TokMask:
		id = t.opts.MaskID
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s (%d) not defined by the SentencePiece model", token, int(token))
	}
	return id, nil
}
