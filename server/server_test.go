package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/storage"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server/alarm"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/eval"
	"github.com/cyclopcam/rtvd/server/metrics"
	"github.com/cyclopcam/rtvd/server/monitor"
	"github.com/stretchr/testify/require"
)

// Embeds the first pixel of a frame, which tests use to carry the violence probability
type pixelExtractor struct{}

func (p *pixelExtractor) Close()                  {}
func (p *pixelExtractor) Config() *nn.ModelConfig { return nn.DefaultExtractorConfig() }
func (p *pixelExtractor) Extract(ctx context.Context, img *cimg.Image) (nn.Embedding, error) {
	e := make(nn.Embedding, nn.EmbeddingDim)
	e[0] = float32(img.Pixels[0]) / 255
	return e, nil
}

type lastStepClassifier struct{}

func (c *lastStepClassifier) Close()                  {}
func (c *lastStepClassifier) Config() *nn.ModelConfig { return nn.DefaultClassifierConfig() }
func (c *lastStepClassifier) Predict(ctx context.Context, w nn.Window) (float32, error) {
	return w.Step(w.Len() - 1)[0], nil
}

func frames(n int, prob float32) []*cimg.Image {
	f := make([]*cimg.Image, n)
	for i := range f {
		f[i] = cimg.NewImage(32, 24, cimg.PixelFormatRGB)
		f[i].Pixels[0] = byte(prob * 255)
	}
	return f
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *alarm.Alarm) {
	log := logs.NewTestingLog(t)
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.HTTP.UploadDir = t.TempDir()
	m := metrics.New()
	ic := &monitor.InferenceContext{
		Log:        log,
		Extractor:  &pixelExtractor{},
		Classifier: &lastStepClassifier{},
		Device:     nn.DeviceCPU,
		Metrics:    m,
	}
	alm := alarm.NewAlarm(log, m, alarm.Options{})
	s, err := NewServer(log, cfg, ic, alm, m)
	require.NoError(t, err)
	videos := map[string][]*cimg.Image{
		"fight.mp4": frames(12, 0.8),
		"calm.mp4":  frames(12, 0.1),
		"short.mp4": frames(5, 0.8),
		"mild.mp4":  frames(12, 0.3),
	}
	s.openVideo = func(uri string) (videosrc.Source, error) {
		if strings.HasPrefix(uri, s.tempFiles.Root) {
			// Uploads all decode to the same violent clip
			if _, err := os.Stat(uri); err != nil {
				return nil, err
			}
			return videosrc.NewMemory(frames(12, 0.8)), nil
		}
		f, ok := videos[uri]
		if !ok {
			return nil, errors.New("No such file")
		}
		return videosrc.NewMemory(f), nil
	}
	return s, alm
}

func do(t *testing.T, s *Server, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) *monitor.VideoResult {
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := &monitor.VideoResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), res))
	return res
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"device":"cpu"`)
}

func TestSnapshot(t *testing.T) {
	s, alm := newTestServer(t, nil)

	res := decodeResult(t, do(t, s, "POST", "/api/snapshot?video=fight.mp4", nil))
	require.Equal(t, monitor.OutcomeClassified, res.Outcome)
	require.Equal(t, nn.LabelViolent, res.Decision.Label)
	require.Equal(t, 1, len(alm.Recent()))

	res = decodeResult(t, do(t, s, "POST", "/api/snapshot?video=calm.mp4", nil))
	require.Equal(t, nn.LabelNonViolent, res.Decision.Label)
	require.Equal(t, 1, len(alm.Recent()))

	res = decodeResult(t, do(t, s, "POST", "/api/snapshot?video=short.mp4", nil))
	require.Equal(t, monitor.OutcomeInsufficientFrames, res.Outcome)
	require.Nil(t, res.Decision)

	// 0.3 is below the snapshot threshold, but above the recall threshold
	res = decodeResult(t, do(t, s, "POST", "/api/snapshot?video=mild.mp4", nil))
	require.Equal(t, nn.LabelNonViolent, res.Decision.Label)
	res = decodeResult(t, do(t, s, "POST", "/api/snapshot?video=mild.mp4&threshold=recall", nil))
	require.Equal(t, nn.LabelViolent, res.Decision.Label)

	rec := do(t, s, "GET", "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := []alarm.Record{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Equal(t, 2, len(records))
	require.Equal(t, "fight.mp4", records[0].Video)
}

func TestAlertImage(t *testing.T) {
	s, _ := newTestServer(t, nil)
	log := logs.NewTestingLog(t)
	store, err := storage.NewStorageFS(log, t.TempDir())
	require.NoError(t, err)
	s.alarm = alarm.NewAlarm(log, nil, alarm.Options{Storage: store})

	decodeResult(t, do(t, s, "POST", "/api/snapshot?video=fight.mp4", nil))
	recent := s.alarm.Recent()
	require.Equal(t, 1, len(recent))
	id := recent[0].ID

	rec := do(t, s, "GET", "/api/alerts/"+id+"/image", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, err := cimg.Decompress(rec.Body.Bytes())
	require.NoError(t, err)
	require.Equal(t, 32, img.Width)

	require.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/alerts/nope/image", nil).Code)

	require.Equal(t, http.StatusOK, do(t, s, "DELETE", "/api/alerts/"+id, nil).Code)
	require.Equal(t, 0, len(s.alarm.Recent()))
	_, err = os.Stat(recent[0].Artifact)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/alerts/"+id+"/image", nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, s, "DELETE", "/api/alerts/"+id, nil).Code)
}

func TestStream(t *testing.T) {
	s, _ := newTestServer(t, nil)
	res := decodeResult(t, do(t, s, "POST", "/api/stream?video=mild.mp4", nil))
	require.Equal(t, nn.LabelViolent, res.Decision.Label)
	require.Equal(t, 1, res.NumDecisions)
	require.Equal(t, 12, res.NumFrames)

	res = decodeResult(t, do(t, s, "POST", "/api/stream?video=fight.mp4&stopAfterDecision=1", nil))
	require.Equal(t, 10, res.NumFrames)
}

func TestUpload(t *testing.T) {
	s, _ := newTestServer(t, nil)
	res := decodeResult(t, do(t, s, "POST", "/api/snapshot?name=clip.mp4", []byte("not really a video")))
	require.Equal(t, "upload:clip.mp4", res.Video)
	require.Equal(t, nn.LabelViolent, res.Decision.Label)

	// The temporary file is gone once the request completes
	left, _ := filepath.Glob(filepath.Join(s.tempFiles.Root, "*"))
	require.Empty(t, left)

	cfg := config.Default()
	cfg.HTTP.MaxUpload = "10"
	s, _ = newTestServer(t, cfg)
	require.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/snapshot", []byte("more than ten bytes")).Code)
}

func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/snapshot?video=missing.mp4", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/snapshot?video=fight.mp4&threshold=7", nil).Code)
	// No video and no upload
	require.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/snapshot", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, "POST", "/api/evaluate", []byte(`{"videos": []}`)).Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := `{"videos": [
		{"path": "fight.mp4", "label": "Violent"},
		{"path": "calm.mp4", "label": "Non-Violent"},
		{"path": "short.mp4", "label": "Violent"}
	]}`
	rec := do(t, s, "POST", "/api/evaluate", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := eval.Report{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.NumExcluded)
	require.Equal(t, 2, report.Metrics.Support)
	require.Equal(t, 1.0, report.Metrics.F1)

	rec = do(t, s, "POST", "/api/evaluate?format=html", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "<html"))
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.RateLimit = 2
	s, _ := newTestServer(t, cfg)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/snapshot?video=calm.mp4", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/snapshot?video=calm.mp4", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, s, "POST", "/api/snapshot?video=calm.mp4", nil).Code)
	// Other endpoints have their own limiter
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/stream?video=calm.mp4", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, "POST", "/api/snapshot?video=fight.mp4", nil)
	rec := do(t, s, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rtvd_")
}
