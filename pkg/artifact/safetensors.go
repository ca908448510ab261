package artifact

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/tensor"
)

// safetensors layout: u64 little-endian header length, a JSON header
// mapping tensor names to {dtype, shape, data_offsets}, then the raw
// little-endian tensor bytes. The header is space-padded to 8 bytes.

const (
	metadataKey    = "__metadata__"
	maxHeaderBytes = 100 << 20
)

type tensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

var dtypeNames = map[tensor.DType]string{
	tensor.Float32: "F32",
	tensor.Float64: "F64",
	tensor.Int32:   "I32",
	tensor.Int64:   "I64",
}

// WriteSafetensors writes tensors to path, ordered by name.
func WriteSafetensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		dt, ok := dtypeNames[t.DType()]
		if !ok {
			return fmt.Errorf("safetensors: %s has unsupported dtype %s", name, t.DType())
		}
		size := int64(len(t.Bytes()))
		header[name] = tensorInfo{DType: dt, Shape: append([]int{}, t.Shape()...), DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := len(hdr) % 8; pad != 0 {
		for i := 0; i < 8-pad; i++ {
			hdr = append(hdr, ' ')
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 1<<20)
	err = binary.Write(w, binary.LittleEndian, uint64(len(hdr)))
	if err == nil {
		_, err = w.Write(hdr)
	}
	for _, name := range names {
		if err != nil {
			break
		}
		_, err = w.Write(tensors[name].Bytes())
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadSafetensors loads every tensor of a safetensors file onto device.
// F16 and BF16 tensors are widened to float32.
func ReadSafetensors(path string, device backend.Device) (map[string]*tensor.Tensor, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	var hdrLen uint64
	if err := binary.Read(f, binary.LittleEndian, &hdrLen); err != nil {
		return nil, nil, fmt.Errorf("safetensors: read header length: %w", err)
	}
	if hdrLen > maxHeaderBytes || int64(hdrLen)+8 > fi.Size() {
		return nil, nil, fmt.Errorf("safetensors: header length %d invalid for %d-byte file", hdrLen, fi.Size())
	}
	hdr := make([]byte, hdrLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, nil, fmt.Errorf("safetensors: read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(hdr, &raw); err != nil {
		return nil, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	var metadata map[string]string
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &metadata); err != nil {
			return nil, nil, fmt.Errorf("safetensors: parse metadata: %w", err)
		}
		delete(raw, metadataKey)
	}

	dataStart := int64(8 + hdrLen)
	dataLen := fi.Size() - dataStart
	out := make(map[string]*tensor.Tensor, len(raw))
	for name, msg := range raw {
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, nil, fmt.Errorf("safetensors: %s: %w", name, err)
		}
		lo, hi := info.DataOffsets[0], info.DataOffsets[1]
		if lo < 0 || hi < lo || hi > dataLen {
			return nil, nil, fmt.Errorf("safetensors: %s: offsets [%d, %d) outside data of %d bytes", name, lo, hi, dataLen)
		}
		buf := make([]byte, hi-lo)
		if _, err := f.ReadAt(buf, dataStart+lo); err != nil {
			return nil, nil, fmt.Errorf("safetensors: read %s: %w", name, err)
		}
		t, err := decodeTensor(info, buf, device)
		if err != nil {
			return nil, nil, fmt.Errorf("safetensors: %s: %w", name, err)
		}
		out[name] = t
	}
	return out, metadata, nil
}

func decodeTensor(info tensorInfo, buf []byte, device backend.Device) (*tensor.Tensor, error) {
	shape := tensor.Shape(info.Shape)
	switch info.DType {
	case "F16", "BF16":
		n := len(buf) / 2
		if n != shape.NumElements() || len(buf)%2 != 0 {
			return nil, fmt.Errorf("%d bytes for shape %v %s", len(buf), shape, info.DType)
		}
		wide := make([]byte, 4*n)
		for i := 0; i < n; i++ {
			h := binary.LittleEndian.Uint16(buf[2*i:])
			var bits uint32
			if info.DType == "BF16" {
				bits = uint32(h) << 16
			} else {
				bits = math.Float32bits(halfToFloat(h))
			}
			binary.LittleEndian.PutUint32(wide[4*i:], bits)
		}
		return tensor.FromBytes(wide, shape, tensor.Float32, device)
	}
	for dt, name := range dtypeNames {
		if name == info.DType {
			return tensor.FromBytes(buf, shape, dt, device)
		}
	}
	return nil, fmt.Errorf("unsupported dtype %s", info.DType)
}

// halfToFloat converts an IEEE 754 binary16 value.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal
		f := float32(frac) / 1024 * float32(math.Pow(2, -14))
		if sign != 0 {
			return -f
		}
		return f
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}
