package scorer

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/go-squad/features"
)

// Batch is a uniform-length slice of windows ready for a model forward pass.
type Batch struct {
	Windows []*features.Window
	length  int // fixed window length shared by the whole batch
}

// NewBatch creates a batch, enforcing that all windows have the same fixed
// length.
func NewBatch(windows []*features.Window) (*Batch, error) {
	if len(windows) == 0 {
		return nil, errors.New("batch must contain at least one window")
	}
	length := windows[0].Len()
	for _, w := range windows {
		if w.Len() != length {
			return nil, errors.Errorf("example %s: window length %d differs from batch length %d",
				w.ExampleID, w.Len(), length)
		}
	}
	return &Batch{Windows: windows, length: length}, nil
}

// Size returns the number of windows in the batch.
func (b *Batch) Size() int { return len(b.Windows) }

// WindowLength returns the fixed token length of the batch's windows.
func (b *Batch) WindowLength() int { return b.length }

// Tensors materializes the batch as the three GoMLX int32 tensors of shape
// [batch, windowLength] a transformer encoder consumes: token ids, segment
// ids and the attention mask.
func (b *Batch) Tensors() (tokenIDs, segmentIDs, mask *tensors.Tensor) {
	flatten := func(get func(w *features.Window) []int32) *tensors.Tensor {
		flat := make([]int32, 0, len(b.Windows)*b.length)
		for _, w := range b.Windows {
			flat = append(flat, get(w)...)
		}
		return tensors.FromFlatDataAndDimensions(flat, len(b.Windows), b.length)
	}
	tokenIDs = flatten(func(w *features.Window) []int32 { return w.IDs })
	segmentIDs = flatten(func(w *features.Window) []int32 { return w.SegmentIDs })
	mask = flatten(func(w *features.Window) []int32 { return w.Mask })
	return
}
