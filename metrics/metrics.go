// Package metrics scores reconstructed predictions against gold references
// with the SQuAD Exact-Match and F1 measures.
//
// Text normalization follows the official SQuAD v1.1 evaluation script
// (evaluate-v1.1.py) exactly: lowercase, strip the ASCII punctuation set,
// drop the English articles "a"/"an"/"the" as whitespace-delimited words and
// collapse whitespace. EM/F1 values are only comparable under identical
// normalization.
package metrics

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/go-squad/squad"
)

// Result is the aggregate over a whole evaluation set, both in [0, 100].
type Result struct {
	ExactMatch float64 `json:"exact_match"`
	F1         float64 `json:"f1"`
}

// NormalizeAnswer applies the SQuAD answer normalization: lowercase, remove
// punctuation, remove articles, collapse whitespace, in that order, matching
// the reference script.
func NormalizeAnswer(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return -1
		}
		return r
	}, s)
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if f == "a" || f == "an" || f == "the" {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// isASCIIPunct reports membership in Python's string.punctuation, the set the
// reference script strips.
func isASCIIPunct(r rune) bool {
	return strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r)
}

// exactMatch scores 1 if the normalized prediction equals any normalized
// reference answer.
func exactMatch(prediction string, references []string) float64 {
	pred := NormalizeAnswer(prediction)
	for _, ref := range references {
		if pred == NormalizeAnswer(ref) {
			return 1
		}
	}
	return 0
}

// f1Score is the maximum token-overlap F1 of the prediction against each
// reference. Prediction and reference are whitespace-token multisets after
// normalization. An empty prediction scores 0 against non-empty references;
// empty against empty (the unanswerable case) scores 1.
func f1Score(prediction string, references []string) float64 {
	predTokens := strings.Fields(NormalizeAnswer(prediction))
	best := 0.0
	for _, ref := range references {
		refTokens := strings.Fields(NormalizeAnswer(ref))
		best = max(best, pairF1(predTokens, refTokens))
	}
	return best
}

func pairF1(pred, ref []string) float64 {
	if len(pred) == 0 || len(ref) == 0 {
		if len(pred) == 0 && len(ref) == 0 {
			return 1
		}
		return 0
	}
	counts := make(map[string]int, len(ref))
	for _, t := range ref {
		counts[t]++
	}
	common := 0
	for _, t := range pred {
		if counts[t] > 0 {
			counts[t]--
			common++
		}
	}
	if common == 0 {
		return 0
	}
	precision := float64(common) / float64(len(pred))
	recall := float64(common) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

// Evaluate aggregates EM and F1 over the whole set. Predictions and
// references must match 1:1 by id; any prediction without a reference, or
// reference never predicted, indicates a dataset mismatch and is a hard
// error — partial or silently-approximate metrics are never produced.
func Evaluate(predictions []squad.Prediction, references []squad.Reference) (Result, error) {
	if len(predictions) == 0 {
		return Result{}, errors.New("no predictions to evaluate")
	}
	refsByID := make(map[string]squad.Reference, len(references))
	for _, ref := range references {
		if _, dup := refsByID[ref.ID]; dup {
			return Result{}, errors.Errorf("duplicate reference id %s", ref.ID)
		}
		refsByID[ref.ID] = ref
	}

	var emSum, f1Sum float64
	matched := make(map[string]struct{}, len(predictions))
	for _, pred := range predictions {
		ref, ok := refsByID[pred.ID]
		if !ok {
			return Result{}, errors.Errorf("prediction for example %s has no matching reference", pred.ID)
		}
		if _, dup := matched[pred.ID]; dup {
			return Result{}, errors.Errorf("duplicate prediction for example %s", pred.ID)
		}
		matched[pred.ID] = struct{}{}
		emSum += exactMatch(pred.Text, ref.Answers)
		f1Sum += f1Score(pred.Text, ref.Answers)
	}
	if len(matched) != len(references) {
		for _, ref := range references {
			if _, ok := matched[ref.ID]; !ok {
				return Result{}, errors.Errorf("reference example %s was never predicted", ref.ID)
			}
		}
	}

	n := float64(len(predictions))
	return Result{
		ExactMatch: 100 * emSum / n,
		F1:         100 * f1Sum / n,
	}, nil
}
