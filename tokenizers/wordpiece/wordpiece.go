// Package wordpiece implements a BERT-style WordPiece tokenizer with byte-span
// tracking back to the original text.
//
// Normalization (text cleanup, optional lowercasing and accent stripping) and
// pre-tokenization (whitespace and punctuation splitting) are applied on a
// per-rune basis so that every emitted token keeps the byte range of the
// original, un-normalized string it came from. This is what allows answer
// spans predicted over tokens to be mapped back to exact substrings of the
// source context.
package wordpiece

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/gomlx/go-squad/tokenizers"
)

const (
	defaultSubwordPrefix        = "##"
	defaultMaxInputCharsPerWord = 100

	padToken  = "[PAD]"
	unkToken  = "[UNK]"
	clsToken  = "[CLS]"
	sepToken  = "[SEP]"
	maskToken = "[MASK]"
)

// Options configures normalization. The defaults match uncased BERT
// vocabularies; cased models should disable both.
type Options struct {
	Lowercase    bool
	StripAccents bool
}

// Tokenizer implements tokenizers.TokenizerWithSpans using the WordPiece
// algorithm (greedy longest-match against a fixed vocabulary).
type Tokenizer struct {
	vocab     map[string]int
	idToToken map[int]string
	opts      Options

	unkID, padID, clsID, sepID, maskID int
}

// Compile time assertions that Tokenizer implements the tokenizer interfaces.
var (
	_ tokenizers.Tokenizer          = &Tokenizer{}
	_ tokenizers.TokenizerWithSpans = &Tokenizer{}
)

// New creates a WordPiece tokenizer from an in-memory vocabulary mapping
// token string to id. The vocabulary must define the [PAD], [UNK], [CLS],
// [SEP] and [MASK] special tokens.
func New(vocab map[string]int, opts Options) (*Tokenizer, error) {
	t := &Tokenizer{
		vocab:     vocab,
		idToToken: make(map[int]string, len(vocab)),
		opts:      opts,
	}
	for token, id := range vocab {
		t.idToToken[id] = token
	}
	for _, special := range []struct {
		token string
		dst   *int
	}{
		{padToken, &t.padID},
		{unkToken, &t.unkID},
		{clsToken, &t.clsID},
		{sepToken, &t.sepID},
		{maskToken, &t.maskID},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, errors.Errorf("vocabulary is missing required special token %q", special.token)
		}
		*special.dst = id
	}
	return t, nil
}

// NewFromVocabFile creates a WordPiece tokenizer from a vocab.txt file, one
// token per line, the line number (0-based) being the token id. This is the
// format distributed with BERT checkpoints.
func NewFromVocabFile(path string, opts Options) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vocabulary file %q", path)
	}
	defer f.Close()

	vocab := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	id := 0
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if token == "" {
			continue
		}
		vocab[token] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read vocabulary file %q", path)
	}
	return New(vocab, opts)
}

// normRune is one rune of the normalized text, still carrying the byte range
// of the original rune(s) it was derived from.
type normRune struct {
	r          rune
	start, end int // byte offsets into the original text
}

// normalize applies BERT text cleanup rune by rune: control characters are
// dropped, whitespace variants collapse to ' ', and, per Options, runes are
// lowercased and accents stripped. Offsets always refer to the original text.
func (t *Tokenizer) normalize(text string) []normRune {
	out := make([]normRune, 0, len(text))
	for i, r := range text {
		size := len(string(r))
		if unicode.IsSpace(r) {
			out = append(out, normRune{r: ' ', start: i, end: i + size})
			continue
		}
		if r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) {
			continue
		}
		if t.opts.Lowercase {
			r = unicode.ToLower(r)
		}
		if t.opts.StripAccents {
			for _, d := range norm.NFD.String(string(r)) {
				if unicode.Is(unicode.Mn, d) {
					continue
				}
				out = append(out, normRune{r: d, start: i, end: i + size})
			}
			continue
		}
		out = append(out, normRune{r: r, start: i, end: i + size})
	}
	return out
}

// preTokenize splits the normalized rune stream into words on whitespace,
// with every punctuation rune becoming a word of its own.
func preTokenize(runes []normRune) [][]normRune {
	var words [][]normRune
	var current []normRune
	flush := func() {
		if len(current) > 0 {
			words = append(words, current)
			current = nil
		}
	}
	for _, nr := range runes {
		switch {
		case nr.r == ' ':
			flush()
		case unicode.IsPunct(nr.r) || unicode.IsSymbol(nr.r):
			flush()
			words = append(words, []normRune{nr})
		default:
			current = append(current, nr)
		}
	}
	flush()
	return words
}

// EncodeWithSpans tokenizes text, reporting per token the byte span of the
// original text it came from. It implements tokenizers.TokenizerWithSpans.
func (t *Tokenizer) EncodeWithSpans(text string) tokenizers.Encoding {
	var enc tokenizers.Encoding
	for _, word := range preTokenize(t.normalize(text)) {
		ids, spans := t.wordPiece(word)
		enc.IDs = append(enc.IDs, ids...)
		enc.Spans = append(enc.Spans, spans...)
	}
	return enc
}

// Encode converts text to a sequence of token ids.
// It implements tokenizers.Tokenizer.
func (t *Tokenizer) Encode(text string) []int {
	return t.EncodeWithSpans(text).IDs
}

// wordPiece runs greedy longest-match sub-word tokenization over one word.
// Pieces after the first carry the continuing-subword prefix when looked up
// in the vocabulary. A word with any un-tokenizable remainder collapses to a
// single [UNK] spanning the whole word.
func (t *Tokenizer) wordPiece(word []normRune) (ids []int, spans []tokenizers.Span) {
	wordSpan := tokenizers.Span{Start: word[0].start, End: word[len(word)-1].end}
	if len(word) > defaultMaxInputCharsPerWord {
		return []int{t.unkID}, []tokenizers.Span{wordSpan}
	}

	var sb strings.Builder
	start := 0
	for start < len(word) {
		end := len(word)
		pieceID := -1
		for start < end {
			sb.Reset()
			if start > 0 {
				sb.WriteString(defaultSubwordPrefix)
			}
			for _, nr := range word[start:end] {
				sb.WriteRune(nr.r)
			}
			if id, ok := t.vocab[sb.String()]; ok {
				pieceID = id
				break
			}
			end--
		}
		if pieceID < 0 {
			return []int{t.unkID}, []tokenizers.Span{wordSpan}
		}
		ids = append(ids, pieceID)
		spans = append(spans, tokenizers.Span{Start: word[start].start, End: word[end-1].end})
		start = end
	}
	return ids, spans
}

// Decode converts a sequence of token ids back to text. Sub-word pieces are
// glued back to their word; special tokens are skipped. Decoding is lossy
// with respect to the original whitespace and casing.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		token, ok := t.idToToken[id]
		if !ok {
			token = unkToken
		}
		switch id {
		case t.padID, t.clsID, t.sepID:
			continue
		}
		if rest, isSubword := strings.CutPrefix(token, defaultSubwordPrefix); isSubword {
			sb.WriteString(rest)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(token)
	}
	return sb.String()
}

// SpecialTokenID returns the id for the given special token.
// It implements tokenizers.Tokenizer.
func (t *Tokenizer) SpecialTokenID(token tokenizers.SpecialToken) (int, error) {
	switch token {
	case tokenizers.TokPad:
		return t.padID, nil
	case tokenizers.TokUnknown:
		return t.unkID, nil
	case tokenizers.TokClassification:
		return t.clsID, nil
	case tokenizers.TokSeparator:
		return t.sepID, nil
	case tokenizers.TokMask:
		return t.maskID, nil
	default:
		return 0, errors.Errorf("special token %s (%d) not defined for WordPiece vocabularies", token, int(token))
	}
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }
