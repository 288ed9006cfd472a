package nnworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/stretchr/testify/require"
)

// When this variable is set, the test binary acts as an extractor worker
const helperEnv = "RTVD_NNWORKER_HELPER"

// Fake MobileNetV2 trunk. Output is 1280x4x4, like the real network at 112x112.
// Each output element is derived from the input, so that tests can tell frames apart.
type fakeBackend struct {
	mode string
}

func (f *fakeBackend) Open(model string, device nn.Device) (nn.Device, error) {
	if model == "missing" {
		return "", errors.New("No such model")
	}
	// Pretend that there is no GPU
	return nn.DeviceCPU, nil
}

func (f *fakeBackend) Extract(shape []int, tensor []float32) ([]float32, error) {
	if len(shape) != 3 || shape[0]*shape[1]*shape[2] != len(tensor) {
		return nil, fmt.Errorf("Bad tensor shape %v for %v elements", shape, len(tensor))
	}
	switch f.mode {
	case "short":
		return make([]float32, 100), nil
	case "hang":
		time.Sleep(time.Hour)
	}
	out := make([]float32, 1280*4*4)
	for i := range out {
		out[i] = tensor[i%len(tensor)]
	}
	return out, nil
}

func TestMain(m *testing.M) {
	if mode, ok := os.LookupEnv(helperEnv); ok {
		if mode == "float64" {
			if err := serveFloat64(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
				os.Exit(1)
			}
			os.Exit(0)
		}
		if err := Serve(os.Stdin, os.Stdout, &fakeBackend{mode: mode}); err != nil {
			fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// serveFloat64 replies the way the Python worker does by default: untyped maps,
// with every float encoded as a double.
func serveFloat64(r io.Reader, w io.Writer) error {
	for {
		req := Request{}
		if err := readMessage(r, &req); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		resp := map[string]any{"id": req.ID}
		switch req.Op {
		case OpHello:
			resp["device"] = "cpu"
			resp["outputDim"] = nn.EmbeddingDim
		case OpExtract:
			out := make([]any, nn.EmbeddingDim*2)
			for i := range out {
				if i%2 == 0 {
					out[i] = float64(i) * 0.25
				} else {
					out[i] = int64(i)
				}
			}
			resp["embedding"] = out
		}
		if err := writeMessage(w, resp); err != nil {
			return err
		}
	}
}

func startHelper(t *testing.T, mode, model string, timeout time.Duration) (*Worker, error) {
	return Start(logs.NewTestingLog(t), Options{
		Command: []string{os.Args[0], "-test.run=^$"},
		Env:     []string{helperEnv + "=" + mode},
		Model:   model,
		Device:  nn.DeviceCUDA,
		Timeout: timeout,
	})
}

func solidImage(width, height int, r, g, b byte) *cimg.Image {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := img.Pixels[y*img.Stride+x*3:]
			p[0], p[1], p[2] = r, g, b
		}
	}
	return img
}

func TestExtractAnyResolution(t *testing.T) {
	w, err := startHelper(t, "normal", "mobilenet_v2", 0)
	require.NoError(t, err)
	defer w.Close()
	require.Equal(t, nn.DeviceCPU, w.Device(), "worker should report CPU fallback")

	for _, size := range [][2]int{{112, 112}, {1920, 1080}, {17, 300}, {1, 1}} {
		e, err := w.Extract(context.Background(), solidImage(size[0], size[1], 200, 10, 90))
		require.NoError(t, err)
		require.Equal(t, nn.EmbeddingDim, len(e))
	}

	// Same frame in, same embedding out
	a, err := w.Extract(context.Background(), solidImage(64, 48, 1, 2, 3))
	require.NoError(t, err)
	b, err := w.Extract(context.Background(), solidImage(64, 48, 1, 2, 3))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExtractRejectsNonRGB(t *testing.T) {
	w, err := startHelper(t, "normal", "mobilenet_v2", 0)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Extract(context.Background(), cimg.NewImage(32, 32, cimg.PixelFormatGRAY))
	require.ErrorIs(t, err, nn.ErrDecode)
	// The worker is still usable
	_, err = w.Extract(context.Background(), solidImage(32, 32, 0, 0, 0))
	require.NoError(t, err)
}

func TestShortOutput(t *testing.T) {
	w, err := startHelper(t, "short", "mobilenet_v2", 0)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Extract(context.Background(), solidImage(32, 32, 0, 0, 0))
	require.ErrorIs(t, err, nn.ErrShape)
}

func TestHandshakeError(t *testing.T) {
	_, err := startHelper(t, "normal", "missing", 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "No such model")
}

func TestCancelledBeforeRequest(t *testing.T) {
	w, err := startHelper(t, "normal", "mobilenet_v2", 0)
	require.NoError(t, err)
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Extract(ctx, solidImage(32, 32, 0, 0, 0))
	require.ErrorIs(t, err, context.Canceled)
	// A cancelled request never reached the worker, so it can still be used
	_, err = w.Extract(context.Background(), solidImage(32, 32, 0, 0, 0))
	require.NoError(t, err)
}

func TestTimeout(t *testing.T) {
	w, err := startHelper(t, "hang", "mobilenet_v2", 300*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Extract(context.Background(), solidImage(32, 32, 0, 0, 0))
	require.Error(t, err)
	// After a timeout the worker refuses further work
	_, err = w.Extract(context.Background(), solidImage(32, 32, 0, 0, 0))
	require.Error(t, err)
}

func TestReadDoubleEmbedding(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, map[string]any{
		"id":        uint64(1),
		"embedding": []float64{0.5, 1.25, -2},
	}))
	resp := Response{}
	require.NoError(t, readMessage(&buf, &resp))
	require.Equal(t, uint64(1), resp.ID)
	require.Equal(t, []float32{0.5, 1.25, -2}, []float32(resp.Embedding))

	// Our own encoding is float32, and must still decode
	buf.Reset()
	require.NoError(t, writeMessage(&buf, &Response{ID: 2, Embedding: []float32{3, -0.5}}))
	resp = Response{}
	require.NoError(t, readMessage(&buf, &resp))
	require.Equal(t, []float32{3, -0.5}, []float32(resp.Embedding))
}

func TestExtractFromDoubleWorker(t *testing.T) {
	w, err := startHelper(t, "float64", "mobilenet_v2", 0)
	require.NoError(t, err)
	defer w.Close()
	for i := 0; i < 3; i++ {
		e, err := w.Extract(context.Background(), solidImage(32, 32, 9, 8, 7))
		require.NoError(t, err)
		require.Equal(t, nn.EmbeddingDim, len(e))
		require.Equal(t, float32(0), e[0])
		require.Equal(t, float32(1), e[1])
		require.Equal(t, float32(0.5), e[2])
	}
}
