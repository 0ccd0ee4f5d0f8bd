// Package tokenizers defines the tokenizer contracts used by the QA feature
// encoders. Implementations live in the subpackages wordpiece and
// sentencepiece.
package tokenizers

// Span is the byte range of a token in the original text. Start and End are
// byte offsets (not rune offsets), so originalText[span.Start:span.End]
// recovers the exact source of the token. Span-alignment of answers depends
// on these being byte offsets into the untokenized string.
type Span struct {
	Start int // start byte position (inclusive)
	End   int // end byte position (exclusive)
}

// Encoding is the result of tokenizing a text while keeping spans.
// IDs and Spans are parallel slices.
type Encoding struct {
	IDs   []int
	Spans []Span
}

// Tokenizer converts text to a sequence of token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string

	// SpecialTokenID returns the id for the given special token, or an
	// error if the vocabulary doesn't define it.
	SpecialTokenID(token SpecialToken) (int, error)
}

// TokenizerWithSpans extends Tokenizer with byte-span tracking. Question
// answering requires it: predictions are mapped back to character ranges of
// the original context through these spans.
type TokenizerWithSpans interface {
	Tokenizer

	// EncodeWithSpans tokenizes text and reports, per token, the byte span
	// in text it originated from. Spans are monotonically non-decreasing.
	EncodeWithSpans(text string) Encoding
}

// SpecialToken is an enum of special tokens with a common semantic whose ids
// differ between vocabularies.
type SpecialToken int

const (
	TokUnknown SpecialToken = iota
	TokPad
	TokMask
	TokClassification // [CLS], the anchor token for unanswerable windows
	TokSeparator      // [SEP]
	TokBeginningOfSentence
	TokEndOfSentence
	TokSpecialTokensCount
)

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	switch t {
	case TokUnknown:
		return "unknown"
	case TokPad:
		return "pad"
	case TokMask:
		return "mask"
	case TokClassification:
		return "classification"
	case TokSeparator:
		return "separator"
	case TokBeginningOfSentence:
		return "beginning_of_sentence"
	case TokEndOfSentence:
		return "end_of_sentence"
	default:
		return "invalid"
	}
}
