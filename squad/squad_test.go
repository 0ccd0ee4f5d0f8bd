package squad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatasetJSON covers both an answerable v1.1-style question and a v2.0
// unanswerable one with plausible answers (which must be ignored).
var testDatasetJSON = []byte(`{
  "version": "v2.0",
  "data": [
    {
      "title": "France",
      "paragraphs": [
        {
          "context": "Paris is the capital of France.",
          "qas": [
            {
              "id": "q1",
              "question": "What is the capital of France?",
              "answers": [
                {"text": "Paris", "answer_start": 0},
                {"text": "Paris", "answer_start": 0}
              ]
            },
            {
              "id": "q2",
              "question": "What is the capital of Spain?",
              "is_impossible": true,
              "answers": [],
              "plausible_answers": [{"text": "Paris", "answer_start": 0}]
            }
          ]
        }
      ]
    }
  ]
}`)

func TestDecodeJSON(t *testing.T) {
	examples, err := DecodeJSON(testDatasetJSON)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	q1 := examples[0]
	assert.Equal(t, "q1", q1.ID)
	assert.Equal(t, "France", q1.Title)
	assert.Equal(t, "Paris is the capital of France.", q1.Context)
	require.Len(t, q1.Answers, 2)
	assert.Equal(t, Answer{Text: "Paris", CharStart: 0}, q1.Answers[0])
	assert.True(t, q1.Answerable())

	q2 := examples[1]
	assert.Equal(t, "q2", q2.ID)
	assert.Empty(t, q2.Answers)
	assert.False(t, q2.Answerable())
}

func TestAnswerByteOffset(t *testing.T) {
	paragraph := "The café capital is Paris."

	// Pure-ASCII prefix: byte and codepoint offsets coincide.
	assert.Equal(t, 4, answerByteOffset(paragraph, "café", 4))
	// Codepoint offset past the multi-byte rune converts to a byte offset.
	assert.Equal(t, 21, answerByteOffset(paragraph, "Paris", 20))
	// Already a byte offset: passes through unchanged.
	assert.Equal(t, 21, answerByteOffset(paragraph, "Paris", 21))
	// Out-of-range offsets are left for Validate to report.
	assert.Equal(t, -1, answerByteOffset(paragraph, "Paris", -1))
	assert.Equal(t, 99, answerByteOffset(paragraph, "Paris", 99))
}

// TestDecodeJSON_CodepointOffsets loads a record whose answer_start counts
// codepoints, as the released SQuAD files do, over a context with a
// multi-byte character before the answer.
func TestDecodeJSON_CodepointOffsets(t *testing.T) {
	data := []byte(`{
  "version": "1.1",
  "data": [{"title": "Cafés", "paragraphs": [{
    "context": "The café capital is Paris.",
    "qas": [{
      "id": "q1",
      "question": "Which city?",
      "answers": [{"text": "Paris", "answer_start": 20}]
    }]
  }]}]
}`)
	examples, err := DecodeJSON(data)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Len(t, examples[0].Answers, 1)

	ans := examples[0].Answers[0]
	assert.Equal(t, 21, ans.CharStart)
	assert.Equal(t, "Paris", examples[0].Context[ans.CharStart:ans.CharStart+len(ans.Text)])
}

func TestReadParquet_CodepointOffsets(t *testing.T) {
	row := parquetRow{
		ID:       "q1",
		Title:    "Cafés",
		Context:  "The café capital is Paris.",
		Question: "Which city?",
	}
	row.Answers.Text = []string{"Paris"}
	row.Answers.AnswerStart = []int32{20}

	path := filepath.Join(t.TempDir(), "dev.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[parquetRow](f)
	_, err = w.Write([]parquetRow{row})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	examples, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, Answer{Text: "Paris", CharStart: 21}, examples[0].Answers[0])
}

func TestValidate(t *testing.T) {
	ex := &Example{
		ID:      "x",
		Context: "Paris is the capital of France.",
		Answers: []Answer{{Text: "Paris", CharStart: 0}},
	}
	require.NoError(t, ex.Validate())

	// Offset past the end of the context.
	bad := &Example{
		ID:      "x",
		Context: "short",
		Answers: []Answer{{Text: "Paris", CharStart: 3}},
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x")

	// Offset in bounds but pointing at the wrong text.
	mismatch := &Example{
		ID:      "y",
		Context: "Paris is the capital of France.",
		Answers: []Answer{{Text: "Paris", CharStart: 6}},
	}
	require.Error(t, mismatch.Validate())

	require.Error(t, (&Example{Context: "c"}).Validate()) // empty id
}

func TestValidateAll_DuplicateID(t *testing.T) {
	err := ValidateAll([]*Example{
		{ID: "dup", Context: "c"},
		{ID: "dup", Context: "c"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dup")
}

func TestReferences(t *testing.T) {
	refs := References([]*Example{
		{ID: "a", Context: "c", Answers: []Answer{{Text: "x", CharStart: 0}, {Text: "y", CharStart: 0}}},
		{ID: "b", Context: "c"},
	})
	require.Len(t, refs, 2)
	assert.Equal(t, Reference{ID: "a", Answers: []string{"x", "y"}}, refs[0])
	// Unanswerable examples score against the empty answer.
	assert.Equal(t, Reference{ID: "b", Answers: []string{""}}, refs[1])
}

func TestReadJSON_RoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.json")
	require.NoError(t, os.WriteFile(path, testDatasetJSON, 0644))
	examples, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Len(t, examples, 2)
}

func TestWritePredictionsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.json")
	err := WritePredictionsJSON(path, []Prediction{
		{ID: "q1", Text: "Paris"},
		{ID: "q2", Text: ""},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"q1": "Paris", "q2": ""}`, string(data))
}
