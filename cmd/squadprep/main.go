// squadprep prepares the training half of the SQuAD fine-tuning pipeline:
// it encodes the training split into fixed-length windows, aligns the gold
// answer spans to token-index labels, and writes the result as a parquet file
// for the external training harness.
//
// Example:
//
//	squadprep -dataset train-v1.1.json -vocab vocab.txt -out train_features.parquet
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-squad/features"
	"github.com/gomlx/go-squad/squad"
	"github.com/gomlx/go-squad/tokenizers"
	"github.com/gomlx/go-squad/tokenizers/sentencepiece"
	"github.com/gomlx/go-squad/tokenizers/wordpiece"
)

var (
	flagDataset   = flag.String("dataset", "", "Training dataset: local path or URL of a SQuAD .json or .parquet file.")
	flagCacheDir  = flag.String("cache_dir", "/tmp/go-squad", "Cache directory for downloaded dataset files.")
	flagTokenizer = flag.String("tokenizer", "wordpiece", `Tokenizer family: "wordpiece" (vocab.txt) or "sentencepiece" (model proto).`)
	flagVocab     = flag.String("vocab", "", "Path to the WordPiece vocab.txt of the model to fine-tune.")
	flagLowercase = flag.Bool("lowercase", true, "Lowercase text before tokenization (uncased vocabularies).")
	flagSPModel   = flag.String("spm_model", "", "SentencePiece model proto (spiece.model) for -tokenizer=sentencepiece.")
	flagSPClsID   = flag.Int("spm_cls_id", 2, "Id of the [CLS] control piece for -tokenizer=sentencepiece.")
	flagSPSepID   = flag.Int("spm_sep_id", 3, "Id of the [SEP] control piece for -tokenizer=sentencepiece.")
	flagMaxLength = flag.Int("max_length", 384, "Fixed window length in tokens.")
	flagStride    = flag.Int("stride", 128, "Context token overlap between consecutive windows of one example.")
	flagOut       = flag.String("out", "", "Output parquet file of training features.")
)

// featureRow is one training window as stored for the external trainer.
// StartPosition/EndPosition are the label's anchor positions: (0,0) when the
// window does not contain the answer.
type featureRow struct {
	ExampleID     string  `parquet:"example_id"`
	TokenIDs      []int32 `parquet:"token_ids"`
	SegmentIDs    []int32 `parquet:"segment_ids"`
	AttentionMask []int32 `parquet:"attention_mask"`
	StartPosition int32   `parquet:"start_position"`
	EndPosition   int32   `parquet:"end_position"`
	Answerable    bool    `parquet:"answerable"`
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagDataset == "" || *flagOut == "" {
		klog.Exitf("-dataset and -out are required")
	}
	if err := run(context.Background()); err != nil {
		klog.Exitf("%+v", err)
	}
}

func run(ctx context.Context) error {
	examples, err := loadDataset(ctx, *flagDataset)
	if err != nil {
		return err
	}

	tok, err := newTokenizer()
	if err != nil {
		return err
	}
	encoder, err := features.NewEncoder(tok, *flagMaxLength, *flagStride)
	if err != nil {
		return err
	}
	feats, err := encoder.EncodeTrainDataset(ctx, examples)
	if err != nil {
		return err
	}

	rows := make([]featureRow, len(feats))
	numUnanswerable := 0
	for i, feat := range feats {
		start, end := feat.Label.Positions()
		rows[i] = featureRow{
			ExampleID:     feat.Window.ExampleID,
			TokenIDs:      feat.Window.IDs,
			SegmentIDs:    feat.Window.SegmentIDs,
			AttentionMask: feat.Window.Mask,
			StartPosition: start,
			EndPosition:   end,
			Answerable:    feat.Label.Answerable,
		}
		if !feat.Label.Answerable {
			numUnanswerable++
		}
	}
	if err := writeFeatures(*flagOut, rows); err != nil {
		return err
	}
	klog.Infof("Wrote %d training features (%d unanswerable windows) to %s",
		len(rows), numUnanswerable, *flagOut)
	return nil
}

// newTokenizer builds the tokenizer selected by -tokenizer.
func newTokenizer() (tokenizers.TokenizerWithSpans, error) {
	switch *flagTokenizer {
	case "wordpiece":
		if *flagVocab == "" {
			return nil, errors.New("-vocab is required with -tokenizer=wordpiece")
		}
		return wordpiece.NewFromVocabFile(*flagVocab, wordpiece.Options{
			Lowercase:    *flagLowercase,
			StripAccents: *flagLowercase,
		})
	case "sentencepiece":
		if *flagSPModel == "" {
			return nil, errors.New("-spm_model is required with -tokenizer=sentencepiece")
		}
		return sentencepiece.New(*flagSPModel, sentencepiece.Options{
			ClassificationID: *flagSPClsID,
			SeparatorID:      *flagSPSepID,
			MaskID:           -1,
		})
	default:
		return nil, errors.Errorf("unknown -tokenizer %q", *flagTokenizer)
	}
}

func writeFeatures(path string, rows []featureRow) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create features file %q", path)
	}
	w := parquet.NewGenericWriter[featureRow](f)
	if _, err := w.Write(rows); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write features to %q", path)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to finalize features file %q", path)
	}
	return f.Close()
}

func loadDataset(ctx context.Context, dataset string) ([]*squad.Example, error) {
	path := dataset
	if strings.HasPrefix(dataset, "http://") || strings.HasPrefix(dataset, "https://") {
		var err error
		path, err = squad.NewDownloader(*flagCacheDir).Fetch(ctx, dataset)
		if err != nil {
			return nil, err
		}
	}
	if strings.HasSuffix(path, ".parquet") {
		return squad.ReadParquet(path)
	}
	return squad.ReadJSON(path)
}
