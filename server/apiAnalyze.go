package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/rtvd/pkg/buildinfo"
	"github.com/cyclopcam/rtvd/pkg/iox"
	"github.com/cyclopcam/rtvd/pkg/kibi"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server/eval"
	"github.com/cyclopcam/rtvd/server/monitor"
	"github.com/cyclopcam/www"
)

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request) {
	www.SendJSON(w, map[string]any{
		"status":  "ok",
		"device":  s.ic.Device,
		"version": buildinfo.Version,
	})
}

// Parse the "threshold" query parameter, which may be a preset name or a number
func queryThreshold(r *http.Request, def float32) float32 {
	v := www.QueryValue(r, "threshold")
	if v == "" {
		return def
	}
	t, err := nn.ParseThreshold(v)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	return t
}

// Returns the video named by the "video" query parameter, or else saves the request body
// to a temporary file and returns that. The returned function removes the temporary file.
func (s *Server) requestVideo(r *http.Request) (string, func()) {
	if uri := www.QueryValue(r, "video"); uri != "" {
		return uri, func() {}
	}
	ext := www.QueryValue(r, "ext")
	if ext == "" {
		ext = ".mp4"
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) {
		www.PanicBadRequestf("Invalid extension '%v'", ext)
	}
	filename := s.tempFiles.Get() + ext
	maxBytes := s.config.HTTP.MaxUploadBytes()
	n, err := iox.WriteStreamToFile(filename, r.Body, maxBytes)
	if errors.Is(err, iox.ErrTooLarge) {
		www.PanicBadRequestf("Upload exceeds %v", kibi.FormatBytes(maxBytes))
	} else if err != nil {
		www.PanicBadRequestf("Failed to read upload: %v", err)
	}
	cleanup := func() { os.Remove(filename) }
	if n == 0 {
		cleanup()
		www.PanicBadRequestf("Specify a video with ?video=, or upload it as the request body")
	}
	return filename, cleanup
}

func (s *Server) open(video string) videosrc.Source {
	src, err := s.openVideo(video)
	if err != nil {
		s.metrics.DecodeError()
		s.Log.Warnf("Failed to open '%v': %v", video, err)
		www.PanicBadRequestf("Failed to open video: %v", err)
	}
	return src
}

// Decode and shape errors are the fault of the input, everything else is ours
func sendAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Client went away
	case errors.Is(err, nn.ErrDecode), errors.Is(err, nn.ErrShape):
		www.SendError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		www.SendError(w, err.Error(), http.StatusInternalServerError)
	}
}

// Uniform sampling over the whole video. Returns a monitor.VideoResult.
func (s *Server) httpSnapshot(w http.ResponseWriter, r *http.Request) {
	threshold := queryThreshold(r, s.config.Thresholds.Snapshot)
	video, cleanup := s.requestVideo(r)
	defer cleanup()
	src := s.open(video)

	s.analysisLock.Lock()
	defer s.analysisLock.Unlock()
	res, err := s.ic.RunSnapshot(r.Context(), displayName(r, video), src, monitor.SnapshotOptions{
		Threshold: threshold,
		Alerts:    s.alerts(),
	})
	if err != nil {
		sendAnalysisError(w, err)
		return
	}
	www.SendJSON(w, res)
}

// Sliding window over the video as it is read. Returns a monitor.VideoResult.
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request) {
	threshold := queryThreshold(r, s.config.Thresholds.Streaming)
	stopEarly := www.QueryValue(r, "stopAfterDecision") == "1"
	video, cleanup := s.requestVideo(r)
	defer cleanup()
	src := s.open(video)

	s.analysisLock.Lock()
	defer s.analysisLock.Unlock()
	res, err := s.ic.RunStream(r.Context(), displayName(r, video), src, monitor.StreamOptions{
		Threshold:         threshold,
		Alerts:            s.alerts(),
		StopAfterDecision: stopEarly,
	})
	if err != nil {
		sendAnalysisError(w, err)
		return
	}
	www.SendJSON(w, res)
}

type evaluateRequest struct {
	Videos    []eval.LabeledVideo `json:"videos"`
	Threshold string              `json:"threshold"` // Preset name or number. Default is the streaming threshold.
}

// Runs the evaluator over videos that are accessible to the server.
// With ?format=html the report is rendered as a page of charts, otherwise it is JSON.
func (s *Server) httpEvaluate(w http.ResponseWriter, r *http.Request) {
	req := evaluateRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if len(req.Videos) == 0 {
		www.PanicBadRequestf("No videos")
	}
	threshold := s.config.Thresholds.Streaming
	if req.Threshold != "" {
		t, err := nn.ParseThreshold(req.Threshold)
		if err != nil {
			www.PanicBadRequestf("%v", err)
		}
		threshold = t
	}

	s.analysisLock.Lock()
	defer s.analysisLock.Unlock()
	report, err := eval.Evaluate(r.Context(), s.ic, req.Videos, eval.Options{
		Threshold: threshold,
		Backend:   s.config.VideoBackend,
		Open:      s.openVideo,
	})
	if err != nil {
		sendAnalysisError(w, err)
		return
	}
	if www.QueryValue(r, "format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		www.Check(report.WriteHTML(w))
		return
	}
	www.SendJSON(w, report)
}

// Uploaded files are reported by the name the client gave them, if any
func displayName(r *http.Request, video string) string {
	if www.QueryValue(r, "video") == "" {
		if name := www.QueryValue(r, "name"); name != "" {
			return fmt.Sprintf("upload:%v", filepath.Base(name))
		}
	}
	return video
}
