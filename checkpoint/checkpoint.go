// Package checkpoint reads fine-tuned model checkpoints in the safetensors
// format, single-file or sharded, from a local directory. Tensors are read
// through a memory map into GoMLX tensors. The fine-tuning pipeline treats
// the model as opaque; this package only exists so commands can load and
// sanity-check the checkpoint they are about to hand to the external
// training/serving harness.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TensorMeta describes one tensor in a safetensors header.
type TensorMeta struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SizeBytes returns the byte size of the tensor data.
func (m *TensorMeta) SizeBytes() int64 { return m.DataOffsets[1] - m.DataOffsets[0] }

// shardIndex mirrors model.safetensors.index.json of sharded checkpoints.
type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// Checkpoint is an opened checkpoint directory: a map from tensor name to the
// shard file holding it, plus the parsed header of every shard.
type Checkpoint struct {
	dir       string
	weightMap map[string]string                // tensor name -> shard filename
	headers   map[string]map[string]TensorMeta // shard filename -> header
	dataStart map[string]int64                 // shard filename -> first data byte
}

// Open loads the checkpoint metadata from dir. A model.safetensors.index.json
// marks a sharded checkpoint; otherwise the single *.safetensors file in the
// directory is used.
func Open(dir string) (*Checkpoint, error) {
	c := &Checkpoint{
		dir:       dir,
		weightMap: make(map[string]string),
		headers:   make(map[string]map[string]TensorMeta),
		dataStart: make(map[string]int64),
	}

	indexPath := filepath.Join(dir, "model.safetensors.index.json")
	if data, err := os.ReadFile(indexPath); err == nil {
		var index shardIndex
		if err := json.Unmarshal(data, &index); err != nil {
			return nil, errors.Wrapf(err, "failed to parse shard index %q", indexPath)
		}
		c.weightMap = index.WeightMap
		shards := make(map[string]struct{})
		for _, shard := range index.WeightMap {
			shards[shard] = struct{}{}
		}
		for shard := range shards {
			if err := c.parseShardHeader(shard); err != nil {
				return nil, err
			}
		}
		klog.V(1).Infof("Opened sharded checkpoint %s: %d tensors in %d shards",
			dir, len(c.weightMap), len(shards))
		return c, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint directory %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".safetensors") {
			continue
		}
		if err := c.parseShardHeader(entry.Name()); err != nil {
			return nil, err
		}
		for name := range c.headers[entry.Name()] {
			c.weightMap[name] = entry.Name()
		}
		klog.V(1).Infof("Opened checkpoint %s: %d tensors in %s",
			dir, len(c.weightMap), entry.Name())
		return c, nil
	}
	return nil, errors.Errorf("no .safetensors file found in %q", dir)
}

// parseShardHeader reads the safetensors header of one shard file: an 8-byte
// little-endian length followed by that many bytes of JSON.
func (c *Checkpoint) parseShardHeader(shard string) error {
	path := filepath.Join(c.dir, shard)
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open shard %q", path)
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := f.Read(lenBuf[:]); err != nil {
		return errors.Wrapf(err, "failed to read header length of %q", path)
	}
	headerLen := int64(binary.LittleEndian.Uint64(lenBuf[:]))
	stat, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", path)
	}
	if headerLen <= 0 || headerLen > stat.Size()-8 {
		return errors.Errorf("shard %q has invalid header length %d (file size %d)",
			path, headerLen, stat.Size())
	}

	headerData := make([]byte, headerLen)
	if _, err := f.ReadAt(headerData, 8); err != nil {
		return errors.Wrapf(err, "failed to read header of %q", path)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerData, &raw); err != nil {
		return errors.Wrapf(err, "failed to parse header of %q", path)
	}

	header := make(map[string]TensorMeta, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var meta TensorMeta
		if err := json.Unmarshal(msg, &meta); err != nil {
			return errors.Wrapf(err, "failed to parse metadata of tensor %q in %q", name, path)
		}
		header[name] = meta
	}
	c.headers[shard] = header
	c.dataStart[shard] = 8 + headerLen
	return nil
}

// TensorNames returns the names of all tensors in the checkpoint.
func (c *Checkpoint) TensorNames() []string {
	names := make([]string, 0, len(c.weightMap))
	for name := range c.weightMap {
		names = append(names, name)
	}
	return names
}

// Meta returns the metadata of a tensor by name.
func (c *Checkpoint) Meta(tensorName string) (TensorMeta, error) {
	shard, ok := c.weightMap[tensorName]
	if !ok {
		return TensorMeta{}, errors.Errorf("tensor %q not found in checkpoint %s", tensorName, c.dir)
	}
	return c.headers[shard][tensorName], nil
}
