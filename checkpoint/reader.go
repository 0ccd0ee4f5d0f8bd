package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// LoadTensor reads one tensor from the checkpoint into a GoMLX tensor,
// through a memory map of the shard file.
func (c *Checkpoint) LoadTensor(tensorName string) (*tensors.Tensor, error) {
	shard, ok := c.weightMap[tensorName]
	if !ok {
		return nil, errors.Errorf("tensor %q not found in checkpoint %s", tensorName, c.dir)
	}
	meta := c.headers[shard][tensorName]

	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q", tensorName)
	}

	path := filepath.Join(c.dir, shard)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open shard %q", path)
	}
	defer f.Close()
	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap shard %q", path)
	}
	defer func() { _ = mapped.Unmap() }()

	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	var loadErr error
	t.MutableBytes(func(data []byte) {
		start := c.dataStart[shard] + meta.DataOffsets[0]
		end := c.dataStart[shard] + meta.DataOffsets[1]
		if int64(len(mapped)) < end {
			loadErr = errors.Errorf("shard %q truncated: tensor %q needs bytes [%d, %d), file has %d",
				path, tensorName, start, end, len(mapped))
			return
		}
		if int64(len(data)) != end-start {
			loadErr = errors.Errorf("tensor %q: shape %s expects %d bytes, header declares %d",
				tensorName, t.Shape(), len(data), end-start)
			return
		}
		copy(data, mapped[start:end])
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return t, nil
}

// dtypeToGoMLX maps a safetensors dtype string to the GoMLX dtype.
func dtypeToGoMLX(dtype string) (dtypes.DType, error) {
	switch dtype {
	case "F64":
		return dtypes.Float64, nil
	case "F32":
		return dtypes.Float32, nil
	case "F16":
		return dtypes.Float16, nil
	case "BF16":
		return dtypes.BFloat16, nil
	case "I64":
		return dtypes.Int64, nil
	case "I32":
		return dtypes.Int32, nil
	case "I16":
		return dtypes.Int16, nil
	case "I8":
		return dtypes.Int8, nil
	case "U8":
		return dtypes.Uint8, nil
	case "BOOL":
		return dtypes.Bool, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported safetensors dtype %q", dtype)
	}
}
