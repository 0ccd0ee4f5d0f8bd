// Package squad defines the SQuAD reading-comprehension data model and the
// dataset boundary: examples can come from the original nested JSON releases
// or from the HuggingFace parquet layout, and remote files are fetched
// through a locked local cache.
package squad

import (
	"github.com/pkg/errors"
)

// Answer is one ground-truth answer: its text and the byte offset of its
// first character in the example's context.
type Answer struct {
	Text      string
	CharStart int
}

// Example is one reading-comprehension example. Training uses only the first
// answer; evaluation scores against all of them. Unanswerable examples
// (SQuAD v2.0) carry an empty Answers slice.
type Example struct {
	ID       string
	Title    string
	Context  string
	Question string
	Answers  []Answer
}

// Validate checks internal consistency of the example. An answer whose
// character interval falls outside the context indicates upstream corruption
// and is reported, never silently dropped.
func (ex *Example) Validate() error {
	if ex.ID == "" {
		return errors.New("example has empty id")
	}
	for i, ans := range ex.Answers {
		if ans.CharStart < 0 || ans.CharStart+len(ans.Text) > len(ex.Context) {
			return errors.Errorf(
				"example %s: answer %d (%q at %d) is outside the context bounds [0, %d)",
				ex.ID, i, ans.Text, ans.CharStart, len(ex.Context))
		}
		if ex.Context[ans.CharStart:ans.CharStart+len(ans.Text)] != ans.Text {
			return errors.Errorf(
				"example %s: answer %d text %q does not match context at offset %d",
				ex.ID, i, ans.Text, ans.CharStart)
		}
	}
	return nil
}

// answerByteOffset maps a raw answer_start onto a byte offset into context.
// The released SQuAD files count codepoints (they were produced from Python
// strings), which only coincides with byte counting while the prefix is pure
// ASCII. The byte interpretation is checked first so files already carrying
// byte offsets load unchanged.
func answerByteOffset(context, text string, start int) int {
	if start < 0 {
		return start
	}
	if start+len(text) <= len(context) && context[start:start+len(text)] == text {
		return start
	}
	runes := 0
	for i := range context {
		if runes == start {
			return i
		}
		runes++
	}
	if runes == start {
		return len(context)
	}
	return start
}

// Answerable reports whether the example has at least one gold answer.
func (ex *Example) Answerable() bool { return len(ex.Answers) > 0 }

// Prediction is the final per-example output: the single best reconstructed
// answer text, empty when no valid candidate survived.
type Prediction struct {
	ID   string `json:"id"`
	Text string `json:"prediction_text"`
}

// Reference is the scoring-side view of an example: all gold answer texts.
// Unanswerable examples are represented by a single empty-string answer, so
// an empty prediction scores as an exact match.
type Reference struct {
	ID      string
	Answers []string
}

// References derives the metric references for a set of examples.
func References(examples []*Example) []Reference {
	refs := make([]Reference, len(examples))
	for i, ex := range examples {
		ref := Reference{ID: ex.ID}
		for _, ans := range ex.Answers {
			ref.Answers = append(ref.Answers, ans.Text)
		}
		if len(ref.Answers) == 0 {
			ref.Answers = []string{""}
		}
		refs[i] = ref
	}
	return refs
}

// ValidateAll validates every example and checks id uniqueness.
func ValidateAll(examples []*Example) error {
	seen := make(map[string]struct{}, len(examples))
	for _, ex := range examples {
		if err := ex.Validate(); err != nil {
			return err
		}
		if _, dup := seen[ex.ID]; dup {
			return errors.Errorf("duplicate example id %s", ex.ID)
		}
		seen[ex.ID] = struct{}{}
	}
	return nil
}
