package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/dynamite/internal/tensor"
)

const metadataKey = "__metadata__"

// tensorHeader describes one tensor in the SafeTensors header.
type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Write encodes tensors in SafeTensors format, in name order. The data
// checksum is added to a copy of metadata.
func Write(w io.Writer, tensors map[string]*tensor.Value, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header := make(map[string]any, len(names)+1)
	for _, name := range names {
		v := tensors[name]
		start := int64(data.Len())
		for _, x := range v.Data() {
			_ = binary.Write(&data, binary.LittleEndian, math.Float32bits(x))
		}
		shape := make([]int64, v.Shape().Rank())
		for i, d := range v.Shape() {
			shape[i] = int64(d)
		}
		header[name] = tensorHeader{
			DType:       "F32",
			Shape:       shape,
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[checksumKey] = ComputeChecksum(data.Bytes())
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write tensor data")
	}
	return nil
}

// Read decodes a SafeTensors stream of float32 tensors.
func Read(r io.Reader) (map[string]*tensor.Value, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header")
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &raw); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse header")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read tensor data")
	}

	var metadata map[string]string
	headers := make(map[string]tensorHeader, len(raw))
	entries := make([]entry, 0, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, errors.Wrap(err, "failed to parse metadata")
			}
			continue
		}
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h tensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to parse header of %q", name)
		}
		if h.DType != "F32" {
			return nil, nil, errors.Wrapf(ErrUnsupportedDType, "%q has dtype %s", name, h.DType)
		}
		headers[name] = h
		entries = append(entries, entry{Name: name, Offset: h.DataOffsets[0], Size: h.DataOffsets[1] - h.DataOffsets[0]})
	}
	if err := validateOffsets(entries, int64(len(data))); err != nil {
		return nil, nil, err
	}
	if sum, ok := metadata[checksumKey]; ok {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, nil, err
		}
	}

	tensors := make(map[string]*tensor.Value, len(headers))
	for name, h := range headers {
		shape := make(tensor.Shape, len(h.Shape))
		for i, d := range h.Shape {
			shape[i] = int(d)
		}
		region := data[h.DataOffsets[0]:h.DataOffsets[1]]
		if len(region) != 4*shape.NumElements() {
			return nil, nil, &ValidationError{
				Type:    "size_mismatch",
				Tensor:  name,
				Details: fmt.Sprintf("shape %v needs %d bytes, got %d", shape, 4*shape.NumElements(), len(region)),
			}
		}
		values := make([]float32, shape.NumElements())
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(region[4*i:]))
		}
		v, err := tensor.FromSlice(values, shape)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "tensor %q", name)
		}
		tensors[name] = v
	}
	return tensors, metadata, nil
}

// WriteFile writes tensors to a SafeTensors file at path.
func WriteFile(path string, tensors map[string]*tensor.Value, metadata map[string]string) error {
	//nolint:gosec // G304: path is chosen by the user saving a checkpoint
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if err := Write(f, tensors, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

// ReadFile reads a SafeTensors file.
func ReadFile(path string) (map[string]*tensor.Value, map[string]string, error) {
	//nolint:gosec // G304: path is chosen by the user loading a checkpoint
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}
