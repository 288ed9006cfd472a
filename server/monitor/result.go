package monitor

import (
	"context"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/perfstats"
)

type Outcome string

const (
	OutcomeClassified         Outcome = "classified"          // A decision was made
	OutcomeInsufficientFrames Outcome = "insufficient_frames" // Fewer frames than the window length, so no decision
)

// VideoResult is the outcome of running the pipeline over one video
type VideoResult struct {
	Video         string             `json:"video"`
	Outcome       Outcome            `json:"outcome"`
	Decision      *nn.Decision       `json:"decision,omitempty"` // The first (and in the default mode, only) decision
	DecisionFrame int                `json:"decisionFrame"`      // Frame index that the decision was made at, or -1
	NumDecisions  int                `json:"numDecisions"`       // More than 1 only in continuous mode
	NumFrames     int                `json:"numFrames"`          // Frames decoded
	Perf          perfstats.Pipeline `json:"-"`
}

func newVideoResult(video string) *VideoResult {
	return &VideoResult{
		Video:         video,
		Outcome:       OutcomeInsufficientFrames,
		DecisionFrame: -1,
	}
}

// True if the classifier produced a decision for this video
func (r *VideoResult) Decided() bool {
	return r.Decision != nil
}

// AlertEvent is raised for every Violent decision
type AlertEvent struct {
	Video      string
	Decision   nn.Decision
	Frame      *cimg.Image // Representative frame
	FrameIndex int
}

// AlertSink acts on a Violent decision. Implementations must handle their own failures.
// Nothing that goes wrong inside an alert may affect the pipeline.
type AlertSink interface {
	Alert(ctx context.Context, ev AlertEvent)
}

// midpointFrame retains just enough frames to produce frame n/2 once the stream ends,
// where n is the number of frames added. It holds the second half of the video so far.
type midpointFrame struct {
	frames []*cimg.Image
	first  int // Index of frames[0] in the video
	n      int
}

func (m *midpointFrame) add(f *cimg.Image) {
	m.frames = append(m.frames, f)
	m.n++
	for m.first < m.n/2 {
		m.frames[0] = nil
		m.frames = m.frames[1:]
		m.first++
	}
}

// Returns the frame at index n/2, or nil if no frames were added
func (m *midpointFrame) get() (*cimg.Image, int) {
	if m.n == 0 {
		return nil, -1
	}
	return m.frames[m.n/2-m.first], m.n / 2
}
