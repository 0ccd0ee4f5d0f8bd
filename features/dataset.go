package features

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-squad/squad"
)

// TrainFeature is one training window with its aligned label.
type TrainFeature struct {
	Window *Window
	Label  Label
}

// EncodeDataset encodes all examples into evaluation windows, fanning out
// across examples (they share no mutable state) and concatenating results in
// example order, so window order is deterministic regardless of parallelism.
func (e *Encoder) EncodeDataset(ctx context.Context, examples []*squad.Example) ([]*Window, error) {
	perExample := make([][]*Window, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ex := range examples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			windows, err := e.Encode(ex)
			if err != nil {
				return err
			}
			perExample[i] = windows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*Window
	for _, windows := range perExample {
		all = append(all, windows...)
	}
	klog.V(1).Infof("Encoded %d examples into %d windows", len(examples), len(all))
	return all, nil
}

// EncodeTrainDataset encodes all examples into training windows with aligned
// labels. Training follows the reference convention of using only the first
// gold answer. Examples without answers (SQuAD v2.0 unanswerables) yield
// Unanswerable labels for every window.
func (e *Encoder) EncodeTrainDataset(ctx context.Context, examples []*squad.Example) ([]TrainFeature, error) {
	perExample := make([][]TrainFeature, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ex := range examples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			feats, err := e.encodeTrainExample(ex)
			if err != nil {
				return err
			}
			perExample[i] = feats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []TrainFeature
	for _, feats := range perExample {
		all = append(all, feats...)
	}
	klog.V(1).Infof("Encoded %d examples into %d training features", len(examples), len(all))
	return all, nil
}

func (e *Encoder) encodeTrainExample(ex *squad.Example) ([]TrainFeature, error) {
	windows, err := e.Encode(ex)
	if err != nil {
		return nil, err
	}
	feats := make([]TrainFeature, len(windows))
	anyAnswerable := false
	for i, w := range windows {
		feats[i] = TrainFeature{Window: w, Label: Unanswerable}
		if ex.Answerable() {
			feats[i].Label = AlignLabel(w, ex.Answers[0].Text, ex.Answers[0].CharStart)
		}
		anyAnswerable = anyAnswerable || feats[i].Label.Answerable
	}
	if ex.Answerable() && !anyAnswerable {
		// The answer straddles the overlap boundary in every window. Not an
		// error: the example simply trains as unanswerable.
		klog.V(2).Infof("Example %s: answer not fully contained in any of its %d windows", ex.ID, len(windows))
	}
	return feats, nil
}
