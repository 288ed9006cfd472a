package videosrc

// Package videosrc decodes video files and streams into RGB frames.

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// Source produces decoded frames, in order, from a single video
type Source interface {
	// Next returns the next RGB frame, or io.EOF at the end of the video.
	// A frame that can't be decoded returns an error that wraps nn.ErrDecode.
	// The returned image is owned by the caller.
	Next(ctx context.Context) (*cimg.Image, error)

	// Number of frames reported by the container, or -1 if unknown (eg live streams)
	FrameCount() int

	// Close releases the decoder. Must be called on every exit path.
	Close() error
}

type Backend string

const (
	BackendOpenCV Backend = "opencv"
	BackendFFmpeg Backend = "ffmpeg"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case "", BackendOpenCV:
		return BackendOpenCV, nil
	case BackendFFmpeg:
		return BackendFFmpeg, nil
	}
	return "", fmt.Errorf("Unknown video backend '%v'", s)
}

// Open a video file or stream URL (eg rtsp://...) with the given backend
func Open(uri string, backend Backend) (Source, error) {
	switch backend {
	case "", BackendOpenCV:
		return OpenOpenCV(uri)
	case BackendFFmpeg:
		return OpenFFmpeg(uri)
	}
	return nil, fmt.Errorf("Unknown video backend '%v'", backend)
}
