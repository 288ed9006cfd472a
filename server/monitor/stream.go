package monitor

import (
	"context"
	"fmt"
	"io"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/pkg/window"
)

type StreamOptions struct {
	Threshold float32   // Usually nn.ThresholdRecall
	Alerts    AlertSink // May be nil

	// Stop reading the video as soon as the decision has been made.
	// By default the rest of the video is still consumed.
	StopAfterDecision bool

	// Continuous monitoring of a live source. After every decision the window is re-armed,
	// and the next decision is made once WindowLength fresh frames have arrived.
	// The video is read until it ends or ctx is cancelled.
	Continuous bool

	// Called for every decision, in order. May be nil.
	OnDecision func(d nn.Decision, frameIndex int)
}

// RunStream classifies a video as it is read, with a sliding window of the most recent
// WindowLength embeddings. In the default mode, exactly one decision is made, when the
// window fills up for the first time. Videos shorter than that yield OutcomeInsufficientFrames.
// On a Violent decision, the current frame is sent to opts.Alerts.
// src is closed before returning.
func (ic *InferenceContext) RunStream(ctx context.Context, video string, src videosrc.Source, opts StreamOptions) (*VideoResult, error) {
	defer src.Close()

	res := newVideoResult(video)
	buf := window.NewSliding(nn.WindowLength)
	for i := 0; ; i++ {
		frame, emb, err := ic.nextEmbedding(ctx, video, src, i, &res.Perf)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		res.NumFrames++

		if !buf.Push(emb) {
			continue
		}
		w, ok, err := buf.Take()
		if err != nil {
			return nil, fmt.Errorf("Video '%v': %w", video, err)
		} else if !ok {
			continue
		}
		d, err := ic.classify(ctx, w, opts.Threshold, &res.Perf)
		if err != nil {
			return nil, fmt.Errorf("Video '%v': %w", video, err)
		}
		ic.Log.Infof("%v: violence probability %.4f at frame %v: %v", video, d.Probability, i, d.Label)
		if res.Decision == nil {
			res.Outcome = OutcomeClassified
			res.Decision = &d
			res.DecisionFrame = i
		}
		res.NumDecisions++
		if opts.OnDecision != nil {
			opts.OnDecision(d, i)
		}
		if d.Label == nn.LabelViolent && opts.Alerts != nil {
			opts.Alerts.Alert(ctx, AlertEvent{
				Video:      video,
				Decision:   d,
				Frame:      frame,
				FrameIndex: i,
			})
		}

		if opts.Continuous {
			buf.Rearm()
		} else if opts.StopAfterDecision {
			break
		}
	}

	if res.Decision == nil {
		ic.Log.Infof("%v: not enough frames for prediction (%v frames)", video, res.NumFrames)
		ic.Metrics.InsufficientFrames()
	}
	ic.Log.Debugf("%v: %v", video, res.Perf.String())
	return res, nil
}

// StreamFile opens a video file or stream and runs RunStream on it
func (ic *InferenceContext) StreamFile(ctx context.Context, uri string, backend videosrc.Backend, opts StreamOptions) (*VideoResult, error) {
	src, err := videosrc.Open(uri, backend)
	if err != nil {
		ic.Metrics.DecodeError()
		return nil, fmt.Errorf("Video '%v': %w", uri, err)
	}
	return ic.RunStream(ctx, uri, src, opts)
}
