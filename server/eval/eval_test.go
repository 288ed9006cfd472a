package eval

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server/monitor"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// The violence probability of a synthetic frame is stored in its first pixel
type scriptedExtractor struct{}

func (p *scriptedExtractor) Close()                  {}
func (p *scriptedExtractor) Config() *nn.ModelConfig { return nn.DefaultExtractorConfig() }
func (p *scriptedExtractor) Extract(ctx context.Context, img *cimg.Image) (nn.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := make(nn.Embedding, nn.EmbeddingDim)
	e[0] = float32(img.Pixels[0]) / 255
	return e, nil
}

// Returns the probability carried by the newest embedding of the window
type scriptedClassifier struct{}

func (p *scriptedClassifier) Close()                  {}
func (p *scriptedClassifier) Config() *nn.ModelConfig { return nn.DefaultClassifierConfig() }
func (p *scriptedClassifier) Predict(ctx context.Context, w nn.Window) (float32, error) {
	return w.Step(w.Len() - 1)[0], nil
}

type syntheticVideo struct {
	frames int
	prob   float32
	failAt int
}

func newContext(t *testing.T) *monitor.InferenceContext {
	return &monitor.InferenceContext{
		Log:        logs.NewTestingLog(t),
		Extractor:  &scriptedExtractor{},
		Classifier: &scriptedClassifier{},
		Device:     nn.DeviceCPU,
	}
}

func openSynthetic(videos map[string]syntheticVideo) func(string) (videosrc.Source, error) {
	return func(path string) (videosrc.Source, error) {
		v, ok := videos[path]
		if !ok {
			return nil, errors.New("No such file")
		}
		frames := make([]*cimg.Image, v.frames)
		for i := range frames {
			frames[i] = cimg.NewImage(16, 16, cimg.PixelFormatRGB)
			frames[i].Pixels[0] = byte(v.prob * 255)
		}
		src := videosrc.NewMemory(frames)
		if v.failAt != 0 {
			src.FailAt = v.failAt
		}
		return src, nil
	}
}

func TestPerfectPredictions(t *testing.T) {
	m, err := ComputeMetrics([]nn.Label{nn.LabelViolent, nn.LabelNonViolent}, []nn.Label{nn.LabelViolent, nn.LabelNonViolent})
	require.NoError(t, err)
	expect := &Metrics{
		Accuracy:  1,
		Precision: 1,
		Recall:    1,
		F1:        1,
		Confusion: ConfusionMatrix{{1, 0}, {0, 1}},
		Support:   2,
	}
	if diff := cmp.Diff(expect, m); diff != "" {
		t.Errorf("Metrics mismatch (-want +got):\n%v", diff)
	}
}

func TestMixedPredictions(t *testing.T) {
	V, N := nn.LabelViolent, nn.LabelNonViolent
	truth := []nn.Label{V, V, V, N, N}
	pred := []nn.Label{V, V, N, V, N}
	m, err := ComputeMetrics(truth, pred)
	require.NoError(t, err)
	require.Equal(t, 2, m.Confusion.TP())
	require.Equal(t, 1, m.Confusion.FN())
	require.Equal(t, 1, m.Confusion.FP())
	require.Equal(t, 1, m.Confusion.TN())
	require.InDelta(t, 0.6, m.Accuracy, 1e-9)
	require.InDelta(t, 2.0/3.0, m.Precision, 1e-9)
	require.InDelta(t, 2.0/3.0, m.Recall, 1e-9)
	require.InDelta(t, 2.0/3.0, m.F1, 1e-9)
}

func TestZeroDenominators(t *testing.T) {
	// No positive predictions and no positive truth
	N := nn.LabelNonViolent
	m, err := ComputeMetrics([]nn.Label{N, N}, []nn.Label{N, N})
	require.NoError(t, err)
	expect := &Metrics{
		Accuracy:  1,
		Confusion: ConfusionMatrix{{2, 0}, {0, 0}},
		Support:   2,
	}
	if diff := cmp.Diff(expect, m); diff != "" {
		t.Errorf("Metrics mismatch (-want +got):\n%v", diff)
	}

	// Empty
	m, err = ComputeMetrics([]nn.Label{}, []nn.Label{})
	require.NoError(t, err)
	if diff := cmp.Diff(&Metrics{}, m); diff != "" {
		t.Errorf("Metrics mismatch (-want +got):\n%v", diff)
	}
}

func TestLengthMismatch(t *testing.T) {
	_, err := ComputeMetrics([]nn.Label{nn.LabelViolent}, []nn.Label{})
	require.ErrorIs(t, err, nn.ErrPrecondition)

	_, err = Pair([]string{"a.mp4", "b.mp4"}, []nn.Label{nn.LabelViolent})
	require.ErrorIs(t, err, nn.ErrPrecondition)
}

func TestEvaluate(t *testing.T) {
	ic := newContext(t)
	videos := map[string]syntheticVideo{
		"fight.mp4":   {frames: 30, prob: 0.9},
		"walk.mp4":    {frames: 30, prob: 0.1},
		"short.mp4":   {frames: 5, prob: 0.9},
		"corrupt.mp4": {frames: 30, prob: 0.9, failAt: 3},
		"subtle.mp4":  {frames: 12, prob: 0.3},
	}
	list := []LabeledVideo{
		{"fight.mp4", nn.LabelViolent},
		{"walk.mp4", nn.LabelNonViolent},
		{"short.mp4", nn.LabelViolent},
		{"corrupt.mp4", nn.LabelViolent},
		{"missing.mp4", nn.LabelNonViolent},
		{"subtle.mp4", nn.LabelViolent},
	}
	report, err := Evaluate(context.Background(), ic, list, Options{
		Threshold: nn.ThresholdRecall,
		Open:      openSynthetic(videos),
	})
	require.NoError(t, err)
	require.Equal(t, 6, len(report.Videos))
	require.Equal(t, 1, report.NumExcluded)
	require.Equal(t, 2, report.NumFailed)

	// Short and failed videos are dropped from both sequences
	V, N := nn.LabelViolent, nn.LabelNonViolent
	require.Equal(t, []nn.Label{V, N, V}, report.Truth)
	require.Equal(t, []nn.Label{V, N, V}, report.Predicted)
	require.Equal(t, 3, report.Metrics.Support)
	require.Equal(t, 1.0, report.Metrics.Accuracy)

	require.Equal(t, monitor.OutcomeInsufficientFrames, report.Videos[2].Outcome)
	require.Nil(t, report.Videos[2].Decision)
	require.NotEmpty(t, report.Videos[3].Error)
	require.NotEmpty(t, report.Videos[4].Error)
	require.True(t, report.Videos[5].Included())
	require.Equal(t, 2, report.ViolentScores.N)
	require.Equal(t, 1, report.NonViolentScores.N)
	require.Greater(t, report.ViolentScores.Min, report.NonViolentScores.Max)

	var text bytes.Buffer
	report.Print(&text)
	require.Contains(t, text.String(), "F1 Score:  1.0000")
	require.Contains(t, text.String(), "Ground truth labels: [1 0 1]")
	require.Contains(t, text.String(), "not enough frames for prediction")

	var html bytes.Buffer
	require.NoError(t, report.WriteHTML(&html))
	require.Contains(t, html.String(), "Confusion matrix")

	plotFile := filepath.Join(t.TempDir(), "eval.png")
	require.NoError(t, report.WritePlot(plotFile))
	st, err := os.Stat(plotFile)
	require.NoError(t, err)
	require.Greater(t, st.Size(), int64(0))
}

func TestEvaluateThresholdChangesLabels(t *testing.T) {
	ic := newContext(t)
	videos := map[string]syntheticVideo{
		"subtle.mp4": {frames: 10, prob: 0.3},
	}
	list := []LabeledVideo{{"subtle.mp4", nn.LabelViolent}}
	open := openSynthetic(videos)

	report, err := Evaluate(context.Background(), ic, list, Options{Threshold: nn.ThresholdSnapshot, Open: open})
	require.NoError(t, err)
	require.Equal(t, []nn.Label{nn.LabelNonViolent}, report.Predicted)
	require.Equal(t, 0.0, report.Metrics.Recall)

	report, err = Evaluate(context.Background(), ic, list, Options{Threshold: nn.ThresholdRecall, Open: open})
	require.NoError(t, err)
	require.Equal(t, []nn.Label{nn.LabelViolent}, report.Predicted)
	require.Equal(t, 1.0, report.Metrics.Recall)
}

func TestEvaluateCancel(t *testing.T) {
	ic := newContext(t)
	videos := map[string]syntheticVideo{
		"a.mp4": {frames: 20, prob: 0.9},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, ic, []LabeledVideo{{"a.mp4", nn.LabelViolent}}, Options{
		Threshold: nn.ThresholdRecall,
		Open:      openSynthetic(videos),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadVideoList(t *testing.T) {
	csv := `# path,label
videos/fight_001.mp4, Violent
videos/walk_001.mp4,0

videos/fight_002.mp4,1
`
	videos, err := ReadVideoList(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, []LabeledVideo{
		{"videos/fight_001.mp4", nn.LabelViolent},
		{"videos/walk_001.mp4", nn.LabelNonViolent},
		{"videos/fight_002.mp4", nn.LabelViolent},
	}, videos)

	_, err = ReadVideoList(strings.NewReader("a.mp4,maybe\n"))
	require.Error(t, err)

	_, err = ReadVideoList(strings.NewReader("a.mp4\n"))
	require.Error(t, err)
}
