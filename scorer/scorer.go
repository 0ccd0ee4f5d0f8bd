// Package scorer defines the model boundary: a batch of windows in, per-token
// start/end logits out. The model itself (architecture, weights, forward
// pass) is opaque; implementations here cover deterministic stubs for tests
// and precomputed logits files for scoring runs whose forward pass was
// executed elsewhere.
package scorer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gomlx/go-squad/features"
)

// Scorer scores a batch of windows. The call is synchronous; batching,
// device placement and retries are the implementation's business.
type Scorer interface {
	Score(ctx context.Context, batch *Batch) (*Logits, error)
}

// Func adapts a function to the Scorer interface.
type Func func(ctx context.Context, batch *Batch) (*Logits, error)

// Score implements Scorer.
func (f Func) Score(ctx context.Context, batch *Batch) (*Logits, error) {
	return f(ctx, batch)
}

// Logits holds per-window start/end logit vectors, each of the batch's
// window length. Row order matches the batch's window order.
type Logits struct {
	Start [][]float32
	End   [][]float32
}

// Validate checks the logits against the batch they were produced for.
// Mis-shaped model output is a hard error: the core never attempts to
// interpret it.
func (l *Logits) Validate(batch *Batch) error {
	if len(l.Start) != batch.Size() || len(l.End) != batch.Size() {
		return errors.Errorf("model returned logits for %d/%d windows, batch has %d",
			len(l.Start), len(l.End), batch.Size())
	}
	for i, w := range batch.Windows {
		if len(l.Start[i]) != w.Len() || len(l.End[i]) != w.Len() {
			return errors.Errorf(
				"example %s: window %d logit vectors have lengths %d/%d, window length is %d",
				w.ExampleID, i, len(l.Start[i]), len(l.End[i]), w.Len())
		}
	}
	return nil
}

// ScoreAll scores windows through the scorer in fixed-size batches and
// returns the concatenated, validated logits in window order.
func ScoreAll(ctx context.Context, s Scorer, windows []*features.Window, batchSize int) (*Logits, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batchSize must be positive, got %d", batchSize)
	}
	all := &Logits{}
	for start := 0; start < len(windows); start += batchSize {
		end := min(start+batchSize, len(windows))
		batch, err := NewBatch(windows[start:end])
		if err != nil {
			return nil, err
		}
		logits, err := s.Score(ctx, batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "scoring windows [%d, %d)", start, end)
		}
		if err := logits.Validate(batch); err != nil {
			return nil, err
		}
		all.Start = append(all.Start, logits.Start...)
		all.End = append(all.End, logits.End...)
	}
	return all, nil
}
