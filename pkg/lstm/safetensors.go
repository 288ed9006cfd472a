package lstm

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// Tensor is a dense row-major float32 array
type Tensor struct {
	Shape []int
	Data  []float32
}

func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type safetensorsEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Sanity limit on the JSON header, so that a corrupt file doesn't make us allocate gigabytes
const maxHeaderSize = 16 * 1024 * 1024

// LoadSafetensors reads all F32 tensors from a .safetensors file.
// Layout: 8 byte little-endian header size, JSON header, then raw little-endian data.
func LoadSafetensors(filename string) (map[string]Tensor, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSafetensors(f)
}

func ReadSafetensors(r io.Reader) (map[string]Tensor, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("Failed to read safetensors header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		return nil, fmt.Errorf("safetensors header is too large (%v bytes)", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("Failed to read safetensors header: %w", err)
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("Invalid safetensors header: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	tensors := map[string]Tensor{}
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		entry := safetensorsEntry{}
		if err := json.Unmarshal(msg, &entry); err != nil {
			return nil, fmt.Errorf("Invalid safetensors entry '%v': %w", name, err)
		}
		if entry.DType != "F32" {
			return nil, fmt.Errorf("Tensor '%v' has dtype %v, but only F32 is supported", name, entry.DType)
		}
		begin, end := entry.DataOffsets[0], entry.DataOffsets[1]
		if begin < 0 || end < begin || end > int64(len(data)) {
			return nil, fmt.Errorf("Tensor '%v' has invalid data offsets [%v, %v]", name, begin, end)
		}
		t := Tensor{Shape: entry.Shape}
		if int64(t.NumElements()*4) != end-begin {
			return nil, fmt.Errorf("Tensor '%v' has shape %v, but %v bytes of data", name, entry.Shape, end-begin)
		}
		t.Data = make([]float32, t.NumElements())
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[begin+int64(i*4):]))
		}
		tensors[name] = t
	}
	return tensors, nil
}

// WriteSafetensors writes tensors in the same format that LoadSafetensors reads.
// Tensors are laid out in name order, so the output is deterministic.
func WriteSafetensors(w io.Writer, tensors map[string]Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := map[string]safetensorsEntry{}
	offset := int64(0)
	for _, name := range names {
		t := tensors[name]
		if t.NumElements() != len(t.Data) {
			return fmt.Errorf("Tensor '%v' has shape %v, but %v elements", name, t.Shape, len(t.Data))
		}
		size := int64(len(t.Data) * 4)
		header[name] = safetensorsEntry{
			DType:       "F32",
			Shape:       t.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func SaveSafetensors(filename string, tensors map[string]Tensor) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(f)
	if err := WriteSafetensors(buf, tensors); err != nil {
		f.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
