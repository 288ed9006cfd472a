package nnworker

import (
	"errors"
	"fmt"
	"io"

	"github.com/cyclopcam/rtvd/pkg/nn"
)

// Backend is the model side of a worker process
type Backend interface {
	// Open loads the model, and returns the device that it actually runs on
	Open(model string, device nn.Device) (nn.Device, error)

	// Extract runs the network on a preprocessed tensor, and returns the flattened output
	Extract(shape []int, tensor []float32) ([]float32, error)
}

// Serve runs the worker side of the protocol until r is closed.
// A Go model backend can be hosted in its own process with this.
func Serve(r io.Reader, w io.Writer, backend Backend) error {
	opened := false
	for {
		req := Request{}
		if err := readMessage(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		resp := Response{ID: req.ID}
		switch req.Op {
		case OpHello:
			device, err := backend.Open(req.Model, nn.Device(req.Device))
			if err != nil {
				resp.Error = err.Error()
			} else {
				opened = true
				resp.Device = string(device)
				resp.OutputDim = nn.EmbeddingDim
			}
		case OpExtract:
			if !opened {
				resp.Error = "Model not opened"
				break
			}
			out, err := backend.Extract(req.Shape, req.Tensor)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Embedding = out
			}
		default:
			resp.Error = fmt.Sprintf("Unknown op '%v'", req.Op)
		}
		if err := writeMessage(w, &resp); err != nil {
			return err
		}
	}
}
