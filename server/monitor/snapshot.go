package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/pkg/window"
)

type SnapshotOptions struct {
	Threshold float32   // Usually nn.ThresholdSnapshot
	Alerts    AlertSink // May be nil
}

// RunSnapshot classifies a whole video at once.
// Every frame is embedded, then WindowLength embeddings are sampled uniformly over the
// whole video and classified. If the video has fewer frames than that, the result is
// OutcomeInsufficientFrames, which is not an error.
// On a Violent decision, the frame in the temporal middle of the video is sent to opts.Alerts.
// src is closed before returning.
func (ic *InferenceContext) RunSnapshot(ctx context.Context, video string, src videosrc.Source, opts SnapshotOptions) (*VideoResult, error) {
	defer src.Close()

	res := newVideoResult(video)
	embeddings := []nn.Embedding{}
	mid := midpointFrame{}
	for i := 0; ; i++ {
		frame, emb, err := ic.nextEmbedding(ctx, video, src, i, &res.Perf)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, emb)
		mid.add(frame)
	}
	res.NumFrames = len(embeddings)

	w, err := window.UniformSample(embeddings, nn.WindowLength)
	if errors.Is(err, nn.ErrInsufficientData) {
		ic.Log.Infof("%v: not enough frames for prediction (%v frames)", video, res.NumFrames)
		ic.Metrics.InsufficientFrames()
		return res, nil
	} else if err != nil {
		return nil, fmt.Errorf("Video '%v': %w", video, err)
	}

	d, err := ic.classify(ctx, w, opts.Threshold, &res.Perf)
	if err != nil {
		return nil, fmt.Errorf("Video '%v': %w", video, err)
	}
	res.Outcome = OutcomeClassified
	res.Decision = &d
	res.NumDecisions = 1
	res.DecisionFrame = res.NumFrames - 1
	ic.Log.Infof("%v: %v (probability %.4f, threshold %.2f, %v frames)", video, d.Label, d.Probability, d.Threshold, res.NumFrames)
	ic.Log.Debugf("%v: %v", video, res.Perf.String())

	if d.Label == nn.LabelViolent && opts.Alerts != nil {
		frame, index := mid.get()
		opts.Alerts.Alert(ctx, AlertEvent{
			Video:      video,
			Decision:   d,
			Frame:      frame,
			FrameIndex: index,
		})
	}
	return res, nil
}

// SnapshotFile opens a video file or stream and runs RunSnapshot on it
func (ic *InferenceContext) SnapshotFile(ctx context.Context, uri string, backend videosrc.Backend, opts SnapshotOptions) (*VideoResult, error) {
	src, err := videosrc.Open(uri, backend)
	if err != nil {
		ic.Metrics.DecodeError()
		return nil, fmt.Errorf("Video '%v': %w", uri, err)
	}
	return ic.RunSnapshot(ctx, uri, src, opts)
}
