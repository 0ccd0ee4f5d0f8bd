// Package postprocess reconstructs text answers from per-token start/end
// logits. Candidates are the cross product of the n-best start and end
// indices per window, filtered for validity (inside the context region,
// well-ordered, within the length limit), and the example's prediction is the
// maximum-score survivor across all of its windows.
//
// Iteration order is fixed (windows in encoding order, then start indices,
// then end indices, each in stable descending-logit order) and ties at the
// maximum keep the first candidate encountered, so predictions are
// deterministic given the logits.
package postprocess

import (
	"context"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-squad/features"
	"github.com/gomlx/go-squad/scorer"
	"github.com/gomlx/go-squad/squad"
)

// DefaultNBest and DefaultMaxAnswerLength match the reference evaluation
// settings for SQuAD.
const (
	DefaultNBest           = 20
	DefaultMaxAnswerLength = 30
)

// Reconstructor turns window logits back into text predictions.
type Reconstructor struct {
	nBest           int
	maxAnswerLength int
}

// NewReconstructor creates a Reconstructor considering the nBest start and
// end indices per window and rejecting candidates longer than
// maxAnswerLength tokens.
func NewReconstructor(nBest, maxAnswerLength int) (*Reconstructor, error) {
	if nBest < 1 {
		return nil, errors.Errorf("nBest must be >= 1, got %d", nBest)
	}
	if maxAnswerLength < 1 {
		return nil, errors.Errorf("maxAnswerLength must be >= 1, got %d", maxAnswerLength)
	}
	return &Reconstructor{nBest: nBest, maxAnswerLength: maxAnswerLength}, nil
}

// Predict reconstructs the best answer for one example from its windows and
// their logit rows (parallel slices). An example none of whose candidates
// survive filtering yields an empty-string prediction.
func (r *Reconstructor) Predict(ex *squad.Example, windows []*features.Window, start, end [][]float32) (squad.Prediction, error) {
	if len(windows) == 0 {
		return squad.Prediction{}, errors.Errorf("example %s: no windows to reconstruct from", ex.ID)
	}
	if len(start) != len(windows) || len(end) != len(windows) {
		return squad.Prediction{}, errors.Errorf("example %s: %d windows but %d/%d logit rows",
			ex.ID, len(windows), len(start), len(end))
	}

	var (
		bestScore float32
		bestText  string
		found     bool
	)
	for wi, w := range windows {
		if len(start[wi]) != w.Len() || len(end[wi]) != w.Len() {
			return squad.Prediction{}, errors.Errorf(
				"example %s: window %d logit vectors have lengths %d/%d, window length is %d",
				ex.ID, wi, len(start[wi]), len(end[wi]), w.Len())
		}
		starts := topIndices(start[wi], r.nBest)
		ends := topIndices(end[wi], r.nBest)
		for _, si := range starts {
			for _, ei := range ends {
				startSpan, ok := w.ContextOffset(si)
				if !ok {
					continue
				}
				endSpan, ok := w.ContextOffset(ei)
				if !ok {
					continue
				}
				if ei < si || ei-si+1 > r.maxAnswerLength {
					continue
				}
				score := start[wi][si] + end[wi][ei]
				// Strictly greater: ties keep the first candidate in
				// window-then-start-then-end iteration order.
				if !found || score > bestScore {
					found = true
					bestScore = score
					bestText = ex.Context[startSpan.Start:endSpan.End]
				}
			}
		}
	}
	if !found {
		klog.V(2).Infof("Example %s: no valid candidate survived filtering, predicting empty", ex.ID)
	}
	return squad.Prediction{ID: ex.ID, Text: bestText}, nil
}

// PredictAll groups the flat window list by owning example, reconstructs each
// example in parallel, and returns predictions in example order. Every
// example must own at least one window and every window must belong to a
// known example; anything else indicates upstream corruption and is a hard
// error.
func (r *Reconstructor) PredictAll(ctx context.Context, examples []*squad.Example, windows []*features.Window, logits *scorer.Logits) ([]squad.Prediction, error) {
	if len(logits.Start) != len(windows) || len(logits.End) != len(windows) {
		return nil, errors.Errorf("have %d windows but %d/%d logit rows",
			len(windows), len(logits.Start), len(logits.End))
	}

	// Explicit grouping step: window indices per example id.
	indexByID := make(map[string]int, len(examples))
	for i, ex := range examples {
		indexByID[ex.ID] = i
	}
	grouped := make([][]int, len(examples))
	for wi, w := range windows {
		i, ok := indexByID[w.ExampleID]
		if !ok {
			return nil, errors.Errorf("window %d belongs to unknown example %s", wi, w.ExampleID)
		}
		grouped[i] = append(grouped[i], wi)
	}

	predictions := make([]squad.Prediction, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ex := range examples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows := grouped[i]
			if len(rows) == 0 {
				return errors.Errorf("example %s has no windows", ex.ID)
			}
			ws := make([]*features.Window, len(rows))
			start := make([][]float32, len(rows))
			end := make([][]float32, len(rows))
			for j, wi := range rows {
				ws[j] = windows[wi]
				start[j] = logits.Start[wi]
				end[j] = logits.End[wi]
			}
			pred, err := r.Predict(ex, ws, start, end)
			if err != nil {
				return err
			}
			predictions[i] = pred
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return predictions, nil
}

// topIndices returns the indices of the n highest values, in stable
// descending value order (equal values keep their index order).
func topIndices(values []float32, n int) []int {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return values[indices[a]] > values[indices[b]]
	})
	if n < len(indices) {
		indices = indices[:n]
	}
	return indices
}
