package server

// Package server exposes the violence detection pipeline over HTTP.

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/cyclopcam/rtvd/server/alarm"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/metrics"
	"github.com/cyclopcam/rtvd/server/monitor"
	"github.com/cyclopcam/rtvd/server/util"
)

type Server struct {
	Log              logs.Log
	ShutdownComplete chan error // Receives the result of ListenHTTP after Shutdown

	config     *config.Config
	ic         *monitor.InferenceContext
	alarm      *alarm.Alarm // May be nil
	metrics    *metrics.Metrics
	tempFiles  *util.TempFiles
	router     http.Handler
	httpServer *http.Server
	signalIn   chan os.Signal

	// There is only one extractor worker, so analyses run one at a time
	analysisLock sync.Mutex

	// Opens a video for analysis. Replaced in tests.
	openVideo func(uri string) (videosrc.Source, error)
}

// NewServer takes ownership of ic. The alarm may be nil, in which case violent decisions raise no alert.
func NewServer(log logs.Log, cfg *config.Config, ic *monitor.InferenceContext, alm *alarm.Alarm, m *metrics.Metrics) (*Server, error) {
	uploadDir := cfg.HTTP.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "rtvd-uploads")
	}
	tempFiles, err := util.NewTempFiles(uploadDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		Log:              log,
		ShutdownComplete: make(chan error, 1),
		config:           cfg,
		ic:               ic,
		alarm:            alm,
		metrics:          m,
		tempFiles:        tempFiles,
	}
	s.openVideo = func(uri string) (videosrc.Source, error) {
		return videosrc.Open(uri, cfg.VideoBackend)
	}
	s.router = s.setupHttpRoutes()
	return s, nil
}

// Returns nil if there is no alarm, so that the pipeline never sees a typed nil
func (s *Server) alerts() monitor.AlertSink {
	if s.alarm == nil {
		return nil
	}
	return s.alarm
}

// Handler returns the HTTP router, without starting a listener
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenHTTP blocks until the server is shut down.
// addr example: ":8090"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops the HTTP server and releases the models
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
	}

	// Wait for any running analysis to finish before we pull the models out from under it
	s.analysisLock.Lock()
	s.ic.Close()
	s.analysisLock.Unlock()

	s.ShutdownComplete <- err
}
