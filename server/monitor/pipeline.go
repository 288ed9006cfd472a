package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/perfstats"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
)

// Read one frame and compute its embedding. Returns io.EOF at the end of the video.
// Cancellation is checked before every frame.
func (ic *InferenceContext) nextEmbedding(ctx context.Context, video string, src videosrc.Source, index int, perf *perfstats.Pipeline) (*cimg.Image, nn.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	frame, err := src.Next(ctx)
	if err == io.EOF {
		return nil, nil, io.EOF
	} else if err != nil {
		if errors.Is(err, nn.ErrDecode) {
			ic.Metrics.DecodeError()
		}
		return nil, nil, fmt.Errorf("Video '%v', frame %v: %w", video, index, err)
	}
	perf.Decode.Since(start)
	ic.Metrics.FrameDecoded()

	start = time.Now()
	emb, err := ic.Extractor.Extract(ctx, frame)
	if err != nil {
		return nil, nil, fmt.Errorf("Video '%v', frame %v: %w", video, index, err)
	}
	if len(emb) != nn.EmbeddingDim {
		return nil, nil, fmt.Errorf("Video '%v', frame %v: %w", video, index, nn.NewShapeError("embedding", nn.EmbeddingDim, len(emb)))
	}
	elapsed := time.Since(start)
	perf.Extract.AddSample(elapsed)
	ic.Metrics.Embedding(elapsed)
	return frame, emb, nil
}

func (ic *InferenceContext) classify(ctx context.Context, w nn.Window, threshold float32, perf *perfstats.Pipeline) (nn.Decision, error) {
	start := time.Now()
	p, err := ic.Classifier.Predict(ctx, w)
	if err != nil {
		return nn.Decision{}, fmt.Errorf("Classifier failed: %w", err)
	}
	if math.IsNaN(float64(p)) || p < 0 || p > 1 {
		return nn.Decision{}, fmt.Errorf("Classifier returned probability %v, which is outside of [0,1]", p)
	}
	perf.Classify.Since(start)
	d := nn.MakeDecision(p, threshold)
	ic.Metrics.Decision(d)
	return d, nil
}
