package eval

// Package eval measures the streaming pipeline against a labelled set of videos.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/stats"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server/monitor"
)

type LabeledVideo struct {
	Path  string   `json:"path"`
	Label nn.Label `json:"label"`
}

// VideoOutcome is what happened to one video of the evaluation set
type VideoOutcome struct {
	Video    string          `json:"video"`
	Truth    nn.Label        `json:"truth"`
	Outcome  monitor.Outcome `json:"outcome,omitempty"`
	Decision *nn.Decision    `json:"decision,omitempty"`
	Error    string          `json:"error,omitempty"` // Set if the video could not be processed
}

// Included in the metrics
func (v *VideoOutcome) Included() bool {
	return v.Decision != nil
}

type Report struct {
	Threshold   float32        `json:"threshold"`
	Videos      []VideoOutcome `json:"videos"`
	Truth       []nn.Label     `json:"truth"`     // Ground truth of the videos that produced a decision
	Predicted   []nn.Label     `json:"predicted"` // Predictions of the videos that produced a decision, parallel to Truth
	Metrics     *Metrics       `json:"metrics"`
	NumExcluded int            `json:"numExcluded"` // Too short for a decision
	NumFailed   int            `json:"numFailed"`   // Decode or shape errors
	Elapsed     time.Duration  `json:"elapsed"`

	// Distribution of the probabilities of decided videos, split by ground truth.
	// The further apart these are, the less the result depends on the threshold.
	ViolentScores    stats.Summary `json:"violentScores"`
	NonViolentScores stats.Summary `json:"nonViolentScores"`
}

type Options struct {
	Threshold         float32 // Usually nn.ThresholdRecall
	Backend           videosrc.Backend
	StopAfterDecision bool
	Alerts            monitor.AlertSink // Usually nil during evaluation

	// Opens a video. Defaults to videosrc.Open with Backend.
	Open func(path string) (videosrc.Source, error)
}

// Evaluate runs the streaming pipeline over every video. Only videos that produce a decision
// contribute to the metrics, and their ground truth is dropped along with them, so the
// two label sequences stay aligned. A video that fails to decode is recorded in the report
// and skipped. Cancellation of ctx aborts the whole evaluation.
func Evaluate(ctx context.Context, ic *monitor.InferenceContext, videos []LabeledVideo, opts Options) (*Report, error) {
	start := time.Now()
	open := opts.Open
	if open == nil {
		open = func(path string) (videosrc.Source, error) {
			return videosrc.Open(path, opts.Backend)
		}
	}
	streamOpts := monitor.StreamOptions{
		Threshold:         opts.Threshold,
		Alerts:            opts.Alerts,
		StopAfterDecision: opts.StopAfterDecision,
	}

	report := &Report{
		Threshold: opts.Threshold,
		Truth:     []nn.Label{},
		Predicted: []nn.Label{},
	}
	for i, v := range videos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ic.Log.Infof("Evaluating %v/%v: %v", i+1, len(videos), v.Path)
		outcome := VideoOutcome{
			Video: v.Path,
			Truth: v.Label,
		}
		res, err := runOne(ctx, ic, v.Path, open, streamOpts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			ic.Log.Errorf("%v", err)
			outcome.Error = err.Error()
			report.NumFailed++
		} else {
			outcome.Outcome = res.Outcome
			outcome.Decision = res.Decision
			if res.Decision != nil {
				report.Truth = append(report.Truth, v.Label)
				report.Predicted = append(report.Predicted, res.Decision.Label)
			} else {
				report.NumExcluded++
			}
		}
		report.Videos = append(report.Videos, outcome)
	}

	metrics, err := ComputeMetrics(report.Truth, report.Predicted)
	if err != nil {
		return nil, err
	}
	report.Metrics = metrics
	report.ViolentScores, report.NonViolentScores = scoreSummaries(report.Videos)
	report.Elapsed = time.Since(start)
	return report, nil
}

func scoreSummaries(videos []VideoOutcome) (violent, nonViolent stats.Summary) {
	var v, nv []float32
	for _, o := range videos {
		if o.Decision == nil {
			continue
		}
		if o.Truth == nn.LabelViolent {
			v = append(v, o.Decision.Probability)
		} else {
			nv = append(nv, o.Decision.Probability)
		}
	}
	return stats.Summarize(v), stats.Summarize(nv)
}

func runOne(ctx context.Context, ic *monitor.InferenceContext, path string, open func(string) (videosrc.Source, error), opts monitor.StreamOptions) (*monitor.VideoResult, error) {
	src, err := open(path)
	if err != nil {
		ic.Metrics.DecodeError()
		return nil, fmt.Errorf("Video '%v': %w", path, err)
	}
	return ic.RunStream(ctx, path, src, opts)
}

// LoadVideoList reads a CSV file of "path,label" rows. Label is Violent/Non-Violent or 1/0.
// Blank lines and lines starting with # are ignored. Relative paths are kept as is.
func LoadVideoList(filename string) ([]LabeledVideo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadVideoList(f)
}

func ReadVideoList(r io.Reader) ([]LabeledVideo, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true
	videos := []LabeledVideo{}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		label, err := nn.ParseLabel(rec[1])
		if err != nil {
			line, _ := reader.FieldPos(1)
			return nil, fmt.Errorf("Line %v: %w", line, err)
		}
		videos = append(videos, LabeledVideo{Path: strings.TrimSpace(rec[0]), Label: label})
	}
	return videos, nil
}

// Pair builds a labelled set from parallel path and label lists
func Pair(paths []string, labels []nn.Label) ([]LabeledVideo, error) {
	if len(paths) != len(labels) {
		return nil, fmt.Errorf("%w: %v videos but %v labels", nn.ErrPrecondition, len(paths), len(labels))
	}
	videos := make([]LabeledVideo, len(paths))
	for i := range paths {
		videos[i] = LabeledVideo{Path: paths[i], Label: labels[i]}
	}
	return videos, nil
}
