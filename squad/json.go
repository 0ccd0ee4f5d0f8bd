package squad

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// jsonDataset mirrors the nested layout of the original SQuAD JSON releases
// (v1.1 and v2.0). v2.0 adds is_impossible and plausible_answers; plausible
// answers are not gold answers and are ignored.
type jsonDataset struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			QAs     []struct {
				ID           string       `json:"id"`
				Question     string       `json:"question"`
				IsImpossible bool         `json:"is_impossible"`
				Answers      []jsonAnswer `json:"answers"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

type jsonAnswer struct {
	Text        string `json:"text"`
	AnswerStart int    `json:"answer_start"`
}

// ReadJSON loads a SQuAD v1.1/v2.0 JSON file and flattens it to examples.
func ReadJSON(path string) ([]*Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset file %q", path)
	}
	return DecodeJSON(data)
}

// DecodeJSON parses the nested SQuAD JSON format from memory.
func DecodeJSON(data []byte) ([]*Example, error) {
	var ds jsonDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, errors.Wrap(err, "failed to parse SQuAD JSON")
	}

	var examples []*Example
	for _, article := range ds.Data {
		for _, para := range article.Paragraphs {
			for _, qa := range para.QAs {
				ex := &Example{
					ID:       qa.ID,
					Title:    article.Title,
					Context:  para.Context,
					Question: qa.Question,
				}
				if !qa.IsImpossible {
					for _, ans := range qa.Answers {
						ex.Answers = append(ex.Answers, Answer{
							Text:      ans.Text,
							CharStart: answerByteOffset(para.Context, ans.Text, ans.AnswerStart),
						})
					}
				}
				examples = append(examples, ex)
			}
		}
	}
	klog.V(1).Infof("Loaded %d examples (SQuAD version %q)", len(examples), ds.Version)

	if err := ValidateAll(examples); err != nil {
		return nil, err
	}
	return examples, nil
}

// WritePredictionsJSON writes predictions in the {"id": "text"} map format
// consumed by the official SQuAD evaluation scripts.
func WritePredictionsJSON(path string, predictions []Prediction) error {
	byID := make(map[string]string, len(predictions))
	for _, p := range predictions {
		byID[p.ID] = p.Text
	}
	data, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal predictions")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write predictions to %q", path)
	}
	return nil
}
