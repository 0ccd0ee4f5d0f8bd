package scorer

import (
	"context"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-squad/features"
)

// logitsRow is one window's logits in a precomputed-logits parquet file.
// Rows appear in the same window order the evaluation encoder produces.
type logitsRow struct {
	ExampleID   string    `parquet:"example_id"`
	StartLogits []float32 `parquet:"start_logits"`
	EndLogits   []float32 `parquet:"end_logits"`
}

// FileScorer serves logits from a parquet file written by an external
// training/inference harness. It consumes rows in order, one per window, and
// verifies each row's example id against the window it is served for, so a
// dataset/logits mismatch fails fast instead of silently mis-scoring.
type FileScorer struct {
	rows []logitsRow
	next int
}

var _ Scorer = &FileScorer{}

// OpenLogitsFile loads a precomputed-logits parquet file.
func OpenLogitsFile(path string) (*FileScorer, error) {
	rows, err := parquet.ReadFile[logitsRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read logits file %q", path)
	}
	klog.V(1).Infof("Loaded logits for %d windows from %s", len(rows), path)
	return &FileScorer{rows: rows}, nil
}

// Score implements Scorer by serving the next batch-worth of stored rows.
func (f *FileScorer) Score(_ context.Context, batch *Batch) (*Logits, error) {
	if f.next+batch.Size() > len(f.rows) {
		return nil, errors.Errorf("logits file exhausted: %d rows left, batch needs %d",
			len(f.rows)-f.next, batch.Size())
	}
	logits := &Logits{
		Start: make([][]float32, batch.Size()),
		End:   make([][]float32, batch.Size()),
	}
	for i, w := range batch.Windows {
		row := f.rows[f.next+i]
		if row.ExampleID != w.ExampleID {
			return nil, errors.Errorf("logits row %d belongs to example %s, window expects %s",
				f.next+i, row.ExampleID, w.ExampleID)
		}
		logits.Start[i] = row.StartLogits
		logits.End[i] = row.EndLogits
	}
	f.next += batch.Size()
	return logits, nil
}

// Remaining returns how many stored rows have not been served yet.
func (f *FileScorer) Remaining() int { return len(f.rows) - f.next }

// WriteLogitsFile writes per-window logits as a parquet file readable by
// OpenLogitsFile. Windows and logits rows must be parallel.
func WriteLogitsFile(path string, windows []*features.Window, logits *Logits) error {
	if len(logits.Start) != len(windows) || len(logits.End) != len(windows) {
		return errors.Errorf("have %d windows but %d/%d logit rows",
			len(windows), len(logits.Start), len(logits.End))
	}
	rows := make([]logitsRow, len(windows))
	for i, w := range windows {
		rows[i] = logitsRow{
			ExampleID:   w.ExampleID,
			StartLogits: logits.Start[i],
			EndLogits:   logits.End[i],
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create logits file %q", path)
	}
	w := parquet.NewGenericWriter[logitsRow](f)
	if _, err := w.Write(rows); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write logits to %q", path)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to finalize logits file %q", path)
	}
	return f.Close()
}
