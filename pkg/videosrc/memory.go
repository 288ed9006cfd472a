package videosrc

import (
	"context"
	"fmt"
	"io"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/rtvd/pkg/nn"
)

// Memory replays a fixed list of frames. Used for synthetic inputs and tests.
type Memory struct {
	frames []*cimg.Image
	pos    int
	closed bool

	// If FailAt >= 0, then reading frame FailAt returns a decode error, like a corrupt file would
	FailAt int
}

func NewMemory(frames []*cimg.Image) *Memory {
	return &Memory{
		frames: frames,
		FailAt: -1,
	}
}

func (m *Memory) FrameCount() int {
	return len(m.frames)
}

func (m *Memory) Next(ctx context.Context) (*cimg.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.closed {
		return nil, fmt.Errorf("Source is closed")
	}
	if m.pos == m.FailAt {
		return nil, fmt.Errorf("%w: frame %v is corrupt", nn.ErrDecode, m.pos)
	}
	if m.pos >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.pos]
	m.pos++
	return f, nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}

// True if Close has been called
func (m *Memory) IsClosed() bool {
	return m.closed
}
