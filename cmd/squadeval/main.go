// squadeval runs the evaluation half of the SQuAD fine-tuning pipeline:
// it encodes the evaluation split into windows, obtains start/end logits from
// a precomputed-logits file (the forward pass runs in the external training
// harness), reconstructs text answers and reports Exact-Match and F1.
//
// Example:
//
//	squadeval -dataset dev-v1.1.json -vocab vocab.txt \
//	  -logits eval_logits.parquet -predictions_out predictions.json
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-squad/checkpoint"
	"github.com/gomlx/go-squad/features"
	"github.com/gomlx/go-squad/metrics"
	"github.com/gomlx/go-squad/postprocess"
	"github.com/gomlx/go-squad/scorer"
	"github.com/gomlx/go-squad/squad"
	"github.com/gomlx/go-squad/tokenizers"
	"github.com/gomlx/go-squad/tokenizers/sentencepiece"
	"github.com/gomlx/go-squad/tokenizers/wordpiece"
)

var (
	flagDataset   = flag.String("dataset", "", "Evaluation dataset: local path or URL of a SQuAD .json or .parquet file.")
	flagCacheDir  = flag.String("cache_dir", "/tmp/go-squad", "Cache directory for downloaded dataset files.")
	flagTokenizer = flag.String("tokenizer", "wordpiece", `Tokenizer family: "wordpiece" (vocab.txt) or "sentencepiece" (model proto).`)
	flagVocab     = flag.String("vocab", "", "Path to the WordPiece vocab.txt of the fine-tuned model.")
	flagLowercase = flag.Bool("lowercase", true, "Lowercase text before tokenization (uncased vocabularies).")
	flagSPModel   = flag.String("spm_model", "", "SentencePiece model proto (spiece.model) for -tokenizer=sentencepiece.")
	flagSPClsID   = flag.Int("spm_cls_id", 2, "Id of the [CLS] control piece for -tokenizer=sentencepiece.")
	flagSPSepID   = flag.Int("spm_sep_id", 3, "Id of the [SEP] control piece for -tokenizer=sentencepiece.")

	flagMaxLength = flag.Int("max_length", 384, "Fixed window length in tokens.")
	flagStride    = flag.Int("stride", 128, "Context token overlap between consecutive windows of one example.")
	flagBatchSize = flag.Int("batch_size", 32, "Windows per scorer call.")

	flagNBest     = flag.Int("n_best", postprocess.DefaultNBest, "Number of start/end indices considered per window.")
	flagMaxAnswer = flag.Int("max_answer_length", postprocess.DefaultMaxAnswerLength, "Maximum answer length in tokens.")

	flagLogits     = flag.String("logits", "", "Parquet file with precomputed per-window start/end logits.")
	flagCheckpoint = flag.String("checkpoint", "", "Optional checkpoint directory to verify before evaluating.")
	flagHiddenSize = flag.Int("hidden_size", 0, "Expected encoder hidden size for the checkpoint check (0 skips).")

	flagPredictionsOut = flag.String("predictions_out", "", "Optional path to write predictions as JSON.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagDataset == "" || *flagLogits == "" {
		klog.Exitf("-dataset and -logits are required")
	}

	ctx := context.Background()
	runID := uuid.NewString()
	klog.V(1).Infof("Evaluation run %s", runID)

	if *flagCheckpoint != "" {
		ckpt, err := checkpoint.Open(*flagCheckpoint)
		if err != nil {
			klog.Exitf("Failed to open checkpoint: %+v", err)
		}
		if err := ckpt.VerifyQAHead(*flagHiddenSize); err != nil {
			klog.Exitf("Checkpoint check failed: %+v", err)
		}
	}

	examples, err := loadDataset(ctx, *flagDataset)
	if err != nil {
		klog.Exitf("Failed to load dataset: %+v", err)
	}

	tok, err := newTokenizer()
	if err != nil {
		klog.Exitf("Failed to create tokenizer: %+v", err)
	}
	encoder, err := features.NewEncoder(tok, *flagMaxLength, *flagStride)
	if err != nil {
		klog.Exitf("Failed to create encoder: %+v", err)
	}
	windows, err := encoder.EncodeDataset(ctx, examples)
	if err != nil {
		klog.Exitf("Failed to encode dataset: %+v", err)
	}

	fileScorer, err := scorer.OpenLogitsFile(*flagLogits)
	if err != nil {
		klog.Exitf("Failed to open logits: %+v", err)
	}
	logits, err := scorer.ScoreAll(ctx, fileScorer, windows, *flagBatchSize)
	if err != nil {
		klog.Exitf("Scoring failed: %+v", err)
	}
	if fileScorer.Remaining() != 0 {
		klog.Exitf("Logits file has %d rows beyond the dataset's %d windows: dataset/logits mismatch",
			fileScorer.Remaining(), len(windows))
	}

	reconstructor, err := postprocess.NewReconstructor(*flagNBest, *flagMaxAnswer)
	if err != nil {
		klog.Exitf("Failed to create reconstructor: %+v", err)
	}
	predictions, err := reconstructor.PredictAll(ctx, examples, windows, logits)
	if err != nil {
		klog.Exitf("Answer reconstruction failed: %+v", err)
	}
	if *flagPredictionsOut != "" {
		if err := squad.WritePredictionsJSON(*flagPredictionsOut, predictions); err != nil {
			klog.Exitf("Failed to write predictions: %+v", err)
		}
	}

	result, err := metrics.Evaluate(predictions, squad.References(examples))
	if err != nil {
		klog.Exitf("Evaluation failed: %+v", err)
	}
	fmt.Println(renderReport(runID, len(examples), len(windows), result))
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

// loadDataset fetches (if remote) and parses the dataset by extension.
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

var (
	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	reportLabelStyle = lipgloss.NewStyle().Faint(true).Width(14)
	reportValueStyle = lipgloss.NewStyle().Bold(true)
	reportBoxStyle   = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("99")).
				Padding(0, 2)
)

func renderReport(runID string, numExamples, numWindows int, result metrics.Result) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top,
			reportLabelStyle.Render(label), reportValueStyle.Render(value))
	}
	return reportBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		reportTitleStyle.Render("SQuAD evaluation"),
		row("Run", runID),
		row("Examples", fmt.Sprintf("%d (%d windows)", numExamples, numWindows)),
		row("Exact Match", fmt.Sprintf("%.2f", result.ExactMatch)),
		row("F1", fmt.Sprintf("%.2f", result.F1)),
	))
}
