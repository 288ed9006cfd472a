package videosrc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/shell"
)

// FFmpeg decodes by piping raw RGB frames out of an ffmpeg child process
type FFmpeg struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderr     bytes.Buffer
	width      int
	height     int
	frameCount int
	done       bool
}

type ProbeResult struct {
	Width      int
	Height     int
	FrameCount int // -1 if unknown
}

type ffprobeOutput struct {
	Streams []struct {
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		NbFrames string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe returns the dimensions of the first video stream
func Probe(uri string) (*ProbeResult, error) {
	out, err := shell.Run("ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=width,height,nb_frames", "-of", "json", uri)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe '%v': %v", nn.ErrDecode, uri, strings.TrimSpace(err.Error()))
	}
	return parseProbe([]byte(out))
}

func parseProbe(out []byte) (*ProbeResult, error) {
	parsed := ffprobeOutput{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid ffprobe output: %v", nn.ErrDecode, err)
	}
	if len(parsed.Streams) == 0 || parsed.Streams[0].Width <= 0 || parsed.Streams[0].Height <= 0 {
		return nil, fmt.Errorf("%w: no video stream found", nn.ErrDecode)
	}
	s := parsed.Streams[0]
	r := &ProbeResult{
		Width:      s.Width,
		Height:     s.Height,
		FrameCount: -1,
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		r.FrameCount = n
	}
	return r, nil
}

func OpenFFmpeg(uri string) (*FFmpeg, error) {
	probe, err := Probe(uri)
	if err != nil {
		return nil, err
	}
	s := &FFmpeg{
		width:      probe.Width,
		height:     probe.Height,
		frameCount: probe.FrameCount,
	}
	s.cmd = exec.Command("ffmpeg", "-nostdin", "-loglevel", "error", "-i", uri, "-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgb24", "-")
	s.cmd.Stderr = &s.stderr
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg: %w", err)
	}
	return s, nil
}

func (s *FFmpeg) FrameCount() int {
	return s.frameCount
}

func (s *FFmpeg) Next(ctx context.Context) (*cimg.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	img := cimg.NewImage(s.width, s.height, cimg.PixelFormatRGB)
	_, err := io.ReadFull(s.stdout, img.Pixels)
	if err == nil {
		return img, nil
	}
	s.done = true
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: truncated frame", nn.ErrDecode)
	}
	if errors.Is(err, io.EOF) {
		// ffmpeg writes nothing more, but it may have failed part way through the file
		if waitErr := s.cmd.Wait(); waitErr != nil {
			return nil, fmt.Errorf("%w: ffmpeg: %v", nn.ErrDecode, strings.TrimSpace(s.stderr.String()))
		}
		return nil, io.EOF
	}
	return nil, fmt.Errorf("%w: %v", nn.ErrDecode, err)
}

func (s *FFmpeg) Close() error {
	if s.cmd.ProcessState == nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}
