package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.FrameDecoded()
	m.FrameDecoded()
	m.Embedding(3 * time.Millisecond)
	m.Decision(nn.MakeDecision(0.9, 0.5))
	m.Decision(nn.MakeDecision(0.1, 0.5))
	m.Decision(nn.MakeDecision(0.7, 0.5))
	m.AlertFailure("store")

	require.Equal(t, 2.0, testutil.ToFloat64(m.framesDecoded))
	require.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("Violent")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("Non-Violent")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.alertFailures.WithLabelValues("store")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), "rtvd_frames_decoded_total 2")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.FrameDecoded()
	m.Decision(nn.MakeDecision(0.9, 0.5))
	m.AlertFailure("audio")
}
