package nnworker

// Package nnworker runs a frozen feature extractor network in a child process.
// The child is typically a small Python program that hosts the pretrained CNN,
// but any executable that speaks the protocol in protocol.go will do.

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
)

var ErrWorkerDead = errors.New("Extractor worker has exited")

type Options struct {
	Command []string      // eg ["python3", "models/extractor_worker.py"]
	Env     []string      // Extra environment variables for the child, eg "CUDA_VISIBLE_DEVICES=0"
	Model   string        // Path to the weights, passed to the worker in the hello message
	Device  nn.Device     // Requested device. The worker may fall back to CPU.
	Timeout time.Duration // Per-request timeout. Zero means DefaultTimeout.
	Config  *nn.ModelConfig
}

const DefaultTimeout = 10 * time.Second

// Worker implements nn.FeatureExtractor
type Worker struct {
	log     logs.Log
	config  nn.ModelConfig
	timeout time.Duration
	device  nn.Device

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}

	lock   sync.Mutex // Serializes requests. The protocol is strictly request/response.
	nextID uint64
	broken error // Once a request times out, the stream is out of sync, so we refuse further work
}

// Start launches the worker process and loads the model inside it
func Start(log logs.Log, opts Options) (*Worker, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("No worker command specified")
	}
	config := opts.Config
	if config == nil {
		config = nn.DefaultExtractorConfig()
	}
	w := &Worker{
		log:     log,
		config:  *config,
		timeout: opts.Timeout,
		exited:  make(chan struct{}),
	}
	if w.timeout == 0 {
		w.timeout = DefaultTimeout
	}

	w.cmd = exec.Command(opts.Command[0], opts.Command[1:]...)
	w.cmd.Env = append(os.Environ(), opts.Env...)
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to create stdin pipe: %w", err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to create stdout pipe: %w", err)
	}
	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to create stderr pipe: %w", err)
	}
	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start extractor worker '%v': %w", opts.Command[0], err)
	}
	w.stdin = stdin
	w.stdout = bufio.NewReader(stdout)
	log.Infof("Extractor worker started (pid %v)", w.cmd.Process.Pid)

	go w.relayStderr(stderr)
	go func() {
		err := w.cmd.Wait()
		if err != nil {
			log.Warnf("Extractor worker exited: %v", err)
		}
		close(w.exited)
	}()

	resp, err := w.roundTrip(context.Background(), &Request{
		Op:     OpHello,
		Model:  opts.Model,
		Device: string(opts.Device),
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("Extractor worker handshake failed: %w", err)
	}
	w.device = nn.Device(resp.Device)
	if opts.Device != "" && w.device != opts.Device {
		log.Warnf("Extractor requested device '%v', but worker is using '%v'", opts.Device, w.device)
	}
	if resp.OutputDim != 0 && resp.OutputDim < nn.EmbeddingDim {
		w.Close()
		return nil, nn.NewShapeError("extractor output", nn.EmbeddingDim, resp.OutputDim)
	}
	return w, nil
}

func (w *Worker) relayStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.log.Infof("[extractor] %v", scanner.Text())
	}
}

// The device that the model is actually running on
func (w *Worker) Device() nn.Device {
	return w.device
}

func (w *Worker) Config() *nn.ModelConfig {
	return &w.config
}

func (w *Worker) Extract(ctx context.Context, img *cimg.Image) (nn.Embedding, error) {
	tensor, err := nn.Preprocess(img, w.config.Width, w.config.Height)
	if err != nil {
		return nil, err
	}
	w.lock.Lock()
	w.nextID++
	id := w.nextID
	w.lock.Unlock()
	resp, err := w.roundTrip(ctx, &Request{
		Op:     OpExtract,
		ID:     id,
		Shape:  []int{3, w.config.Height, w.config.Width},
		Tensor: tensor,
	})
	if err != nil {
		return nil, err
	}
	if resp.ID != id {
		return nil, fmt.Errorf("Extractor worker replied to request %v, but expected %v", resp.ID, id)
	}
	return nn.TruncateEmbedding(resp.Embedding)
}

func (w *Worker) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.broken != nil {
		return nil, w.broken
	}
	// Cancellation is only honoured between requests. Once a request is sent, we wait
	// for its reply, otherwise the stream would fall out of sync.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := writeMessage(w.stdin, req); err != nil {
			done <- result{err: fmt.Errorf("Failed to write to extractor worker: %w", err)}
			return
		}
		resp := &Response{}
		if err := readMessage(w.stdout, resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrWorkerDead
			}
			done <- result{err: err}
			return
		}
		done <- result{resp: resp}
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			w.broken = r.err
			return nil, r.err
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("Extractor worker: %v", r.resp.Error)
		}
		return r.resp, nil
	case <-timer.C:
		w.broken = fmt.Errorf("Extractor worker did not respond within %v", w.timeout)
		w.kill()
		return nil, w.broken
	}
}

func (w *Worker) kill() {
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}

// Close asks the worker to exit by closing its stdin, and kills it if it doesn't
func (w *Worker) Close() {
	w.stdin.Close()
	select {
	case <-w.exited:
	case <-time.After(3 * time.Second):
		w.log.Warnf("Extractor worker did not exit, killing it")
		w.kill()
		<-w.exited
	}
}
