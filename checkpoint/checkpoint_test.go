package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSafetensors writes a minimal safetensors file with the given tensors,
// all float32, data laid out in the order given by names.
func writeSafetensors(t *testing.T, path string, names []string, tensors map[string]struct {
	shape []int
	data  []float32
}) {
	t.Helper()

	header := make(map[string]any, len(tensors)+1)
	header["__metadata__"] = map[string]string{"format": "pt"}
	offset := int64(0)
	var payload []byte
	for _, name := range names {
		tensor := tensors[name]
		size := int64(4 * len(tensor.data))
		header[name] = TensorMeta{
			Dtype:       "F32",
			Shape:       tensor.shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		for _, v := range tensor.data {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}
	}

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	var file []byte
	file = binary.LittleEndian.AppendUint64(file, uint64(len(headerJSON)))
	file = append(file, headerJSON...)
	file = append(file, payload...)
	require.NoError(t, os.WriteFile(path, file, 0644))
}

func writeTestCheckpoint(t *testing.T, hidden int) string {
	t.Helper()
	dir := t.TempDir()
	weight := make([]float32, 2*hidden)
	for i := range weight {
		weight[i] = float32(i)
	}
	writeSafetensors(t, filepath.Join(dir, "model.safetensors"),
		[]string{"qa_outputs.weight", "qa_outputs.bias"},
		map[string]struct {
			shape []int
			data  []float32
		}{
			"qa_outputs.weight": {shape: []int{2, hidden}, data: weight},
			"qa_outputs.bias":   {shape: []int{2}, data: []float32{0.5, -0.5}},
		})
	return dir
}

func TestOpen_SingleFile(t *testing.T) {
	dir := writeTestCheckpoint(t, 4)
	ckpt, err := Open(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"qa_outputs.weight", "qa_outputs.bias"}, ckpt.TensorNames())

	meta, err := ckpt.Meta("qa_outputs.weight")
	require.NoError(t, err)
	assert.Equal(t, "F32", meta.Dtype)
	assert.Equal(t, []int{2, 4}, meta.Shape)
	assert.Equal(t, int64(32), meta.SizeBytes())

	_, err = ckpt.Meta("no.such.tensor")
	require.Error(t, err)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
}

func TestLoadTensor(t *testing.T) {
	dir := writeTestCheckpoint(t, 4)
	ckpt, err := Open(dir)
	require.NoError(t, err)

	tensor, err := ckpt.LoadTensor("qa_outputs.weight")
	require.NoError(t, err)
	wantShape := shapes.Make(dtypes.Float32, 2, 4)
	assert.True(t, tensor.Shape().Equal(wantShape),
		"tensor shape %s, expected %s", tensor.Shape(), wantShape)

	bias, err := ckpt.LoadTensor("qa_outputs.bias")
	require.NoError(t, err)
	assert.Equal(t, 2, bias.Shape().Size())

	_, err = ckpt.LoadTensor("no.such.tensor")
	require.Error(t, err)
}

func TestVerifyQAHead(t *testing.T) {
	dir := writeTestCheckpoint(t, 8)
	ckpt, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, ckpt.VerifyQAHead(0)) // hidden size unchecked
	require.NoError(t, ckpt.VerifyQAHead(8))
	require.Error(t, ckpt.VerifyQAHead(768)) // wrong hidden size
}

func TestVerifyQAHead_NotAQAModel(t *testing.T) {
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "model.safetensors"),
		[]string{"embeddings.weight"},
		map[string]struct {
			shape []int
			data  []float32
		}{
			"embeddings.weight": {shape: []int{4, 2}, data: make([]float32, 8)},
		})
	ckpt, err := Open(dir)
	require.NoError(t, err)
	err = ckpt.VerifyQAHead(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qa_outputs")
}

func TestOpen_Sharded(t *testing.T) {
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "model-00001-of-00002.safetensors"),
		[]string{"qa_outputs.weight"},
		map[string]struct {
			shape []int
			data  []float32
		}{
			"qa_outputs.weight": {shape: []int{2, 4}, data: make([]float32, 8)},
		})
	writeSafetensors(t, filepath.Join(dir, "model-00002-of-00002.safetensors"),
		[]string{"qa_outputs.bias"},
		map[string]struct {
			shape []int
			data  []float32
		}{
			"qa_outputs.bias": {shape: []int{2}, data: make([]float32, 2)},
		})
	index, err := json.Marshal(map[string]any{
		"weight_map": map[string]string{
			"qa_outputs.weight": "model-00001-of-00002.safetensors",
			"qa_outputs.bias":   "model-00002-of-00002.safetensors",
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors.index.json"), index, 0644))

	ckpt, err := Open(dir)
	require.NoError(t, err)
	assert.Len(t, ckpt.TensorNames(), 2)
	require.NoError(t, ckpt.VerifyQAHead(4))

	tensor, err := ckpt.LoadTensor("qa_outputs.bias")
	require.NoError(t, err)
	assert.Equal(t, 2, tensor.Shape().Size())
}
