package squad

import (
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// parquetRow mirrors the HuggingFace parquet layout of the squad dataset:
// answers are a struct of parallel lists.
type parquetRow struct {
	ID       string `parquet:"id"`
	Title    string `parquet:"title"`
	Context  string `parquet:"context"`
	Question string `parquet:"question"`
	Answers  struct {
		Text        []string `parquet:"text"`
		AnswerStart []int32  `parquet:"answer_start"`
	} `parquet:"answers"`
}

// ReadParquet loads examples from a parquet file in the HuggingFace squad
// layout.
func ReadParquet(path string) ([]*Example, error) {
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet dataset %q", path)
	}

	examples := make([]*Example, 0, len(rows))
	for _, row := range rows {
		if len(row.Answers.Text) != len(row.Answers.AnswerStart) {
			return nil, errors.Errorf(
				"example %s: answers text/answer_start lists have mismatched lengths %d vs %d",
				row.ID, len(row.Answers.Text), len(row.Answers.AnswerStart))
		}
		ex := &Example{
			ID:       row.ID,
			Title:    row.Title,
			Context:  row.Context,
			Question: row.Question,
		}
		for i, text := range row.Answers.Text {
			ex.Answers = append(ex.Answers, Answer{
				Text:      text,
				CharStart: answerByteOffset(row.Context, text, int(row.Answers.AnswerStart[i])),
			})
		}
		examples = append(examples, ex)
	}
	klog.V(1).Infof("Loaded %d examples from %s", len(examples), path)

	if err := ValidateAll(examples); err != nil {
		return nil, err
	}
	return examples, nil
}
