package scorer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-squad/features"
	"github.com/gomlx/go-squad/tokenizers"
)

// testWindows builds n uniform windows of the given length.
func testWindows(n, length int) []*features.Window {
	windows := make([]*features.Window, n)
	for i := range windows {
		w := &features.Window{
			ExampleID:    "x1",
			IDs:          make([]int32, length),
			SegmentIDs:   make([]int32, length),
			Mask:         make([]int32, length),
			Offsets:      make([]tokenizers.Span, length),
			HasOffset:    make([]bool, length),
			ContextStart: 2,
			ContextEnd:   length - 2,
		}
		for j := range w.IDs {
			w.IDs[j] = int32(i*length + j)
			w.Mask[j] = 1
		}
		windows[i] = w
	}
	return windows
}

// rows builds n logit rows of the given length, each filled with fill+i.
func rows(n, length int, fill float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, length)
		for j := range out[i] {
			out[i][j] = fill + float32(i)
		}
	}
	return out
}

func TestNewBatch_UniformLength(t *testing.T) {
	_, err := NewBatch(nil)
	require.Error(t, err)

	windows := testWindows(3, 8)
	batch, err := NewBatch(windows)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Size())
	assert.Equal(t, 8, batch.WindowLength())

	windows = append(windows, testWindows(1, 16)...)
	_, err = NewBatch(windows)
	require.Error(t, err)
}

func TestBatch_Tensors(t *testing.T) {
	batch, err := NewBatch(testWindows(2, 8))
	require.NoError(t, err)

	tokenIDs, segmentIDs, mask := batch.Tensors()
	wantShape := shapes.Make(dtypes.Int32, 2, 8)
	for _, tensor := range []interface{ Shape() shapes.Shape }{tokenIDs, segmentIDs, mask} {
		assert.True(t, tensor.Shape().Equal(wantShape),
			"tensor shape %s, expected %s", tensor.Shape(), wantShape)
	}
}

func TestLogitsValidate(t *testing.T) {
	batch, err := NewBatch(testWindows(2, 8))
	require.NoError(t, err)

	good := &Logits{Start: rows(2, 8, 0), End: rows(2, 8, 0)}
	require.NoError(t, good.Validate(batch))

	missingRow := &Logits{Start: rows(1, 8, 0), End: rows(2, 8, 0)}
	require.Error(t, missingRow.Validate(batch))

	shortVector := &Logits{Start: rows(2, 8, 0), End: rows(2, 8, 0)}
	shortVector.End[1] = shortVector.End[1][:5]
	require.Error(t, shortVector.Validate(batch))
}

func TestScoreAll_Batches(t *testing.T) {
	windows := testWindows(5, 8)
	stub := NewStub(rows(5, 8, 1), rows(5, 8, 100))

	logits, err := ScoreAll(context.Background(), stub, windows, 2)
	require.NoError(t, err)
	require.Len(t, logits.Start, 5)
	require.Len(t, logits.End, 5)
	// Rows are served in window order across batch boundaries.
	for i := 0; i < 5; i++ {
		assert.Equal(t, float32(1+i), logits.Start[i][0])
		assert.Equal(t, float32(100+i), logits.End[i][0])
	}
}

func TestScoreAll_ValidatesModelOutput(t *testing.T) {
	windows := testWindows(2, 8)
	malformed := Func(func(_ context.Context, batch *Batch) (*Logits, error) {
		return &Logits{Start: rows(batch.Size(), 5, 0), End: rows(batch.Size(), 5, 0)}, nil
	})
	_, err := ScoreAll(context.Background(), malformed, windows, 2)
	require.Error(t, err)
}

func TestFileScorer_RoundTrip(t *testing.T) {
	windows := testWindows(3, 8)
	want := &Logits{Start: rows(3, 8, 7), End: rows(3, 8, 70)}

	path := filepath.Join(t.TempDir(), "logits.parquet")
	require.NoError(t, WriteLogitsFile(path, windows, want))

	fs, err := OpenLogitsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.Remaining())

	got, err := ScoreAll(context.Background(), fs, windows, 2)
	require.NoError(t, err)
	assert.Equal(t, want.Start, got.Start)
	assert.Equal(t, want.End, got.End)
	assert.Equal(t, 0, fs.Remaining())
}

func TestFileScorer_ExampleIDMismatch(t *testing.T) {
	windows := testWindows(2, 8)
	path := filepath.Join(t.TempDir(), "logits.parquet")
	require.NoError(t, WriteLogitsFile(path, windows, &Logits{Start: rows(2, 8, 0), End: rows(2, 8, 0)}))

	fs, err := OpenLogitsFile(path)
	require.NoError(t, err)

	other := testWindows(2, 8)
	other[0].ExampleID = "other"
	batch, err := NewBatch(other)
	require.NoError(t, err)
	_, err = fs.Score(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other")
}

func TestStub_Exhaustion(t *testing.T) {
	stub := NewStub(rows(1, 8, 0), rows(1, 8, 0))
	batch, err := NewBatch(testWindows(2, 8))
	require.NoError(t, err)
	_, err = stub.Score(context.Background(), batch)
	require.Error(t, err)
}
