package nnworker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Messages are msgpack, framed with a 4 byte big-endian length prefix.

// Largest message we'll accept. A 3x112x112 tensor is about 150KB.
const maxMessageSize = 64 * 1024 * 1024

const (
	OpHello   = "hello"
	OpExtract = "extract"
)

type Request struct {
	Op     string    `msgpack:"op"`
	ID     uint64    `msgpack:"id"`
	Model  string    `msgpack:"model,omitempty"`
	Device string    `msgpack:"device,omitempty"`
	Shape  []int     `msgpack:"shape,omitempty"`
	Tensor []float32 `msgpack:"tensor,omitempty"`
}

type Response struct {
	ID        uint64    `msgpack:"id"`
	Device    string    `msgpack:"device,omitempty"`
	OutputDim int       `msgpack:"outputDim,omitempty"`
	Embedding Floats    `msgpack:"embedding,omitempty"`
	Error     string    `msgpack:"error,omitempty"`
}

// Floats encodes as an array of float32, but decodes from an array of any msgpack numbers.
// Python's msgpack writes float64 unless told otherwise, and torch may hand us ints.
type Floats []float32

func (f *Floats) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 0 {
		*f = nil
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		v, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		out[i] = float32(v)
	}
	*f = out
	return nil
}

func writeMessage(w io.Writer, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("Failed to marshal msgpack message: %w", err)
	}
	frame := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[4:], b)
	_, err = w.Write(frame)
	return err
}

// Returns io.EOF if the stream ended cleanly before a new message
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("Worker message of %v bytes is too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("Failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
