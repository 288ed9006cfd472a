package window

import (
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/rtvd/pkg/nn"
)

// State of a Sliding window, for a single video
type State int

const (
	StateFilling State = iota // Fewer than N embeddings since the start (or since Rearm)
	StateReady                // N embeddings are available, and no decision has been taken yet
	StateDecided              // A decision was taken. We never become Ready again, unless re-armed.
)

func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StateReady:
		return "ready"
	case StateDecided:
		return "decided"
	}
	return "unknown"
}

// Sliding is a bounded FIFO of the most recent N embeddings of a stream.
// It carries the per-video latch that guarantees at most one decision per video.
// Not safe for concurrent use. It is owned by one processing loop.
type Sliding struct {
	n     int
	ring  ringbuffer.RingP[nn.Embedding]
	fresh int // Number of pushes since the start, or since the last Rearm
	state State
}

func NewSliding(n int) *Sliding {
	return &Sliding{
		n:     n,
		ring:  ringbuffer.NewRingP[nn.Embedding](nextPowerOf2(n)),
		state: StateFilling,
	}
}

func (s *Sliding) State() State {
	return s.state
}

// Number of embeddings currently held (at most N)
func (s *Sliding) Len() int {
	return min(s.ring.Len(), s.n)
}

// Push appends e, evicting the oldest embedding once there are more than N.
// Returns true if the window has just become Ready.
func (s *Sliding) Push(e nn.Embedding) bool {
	s.ring.Add(e)
	s.fresh++
	if s.state == StateFilling && s.fresh >= s.n {
		s.state = StateReady
		return true
	}
	return false
}

// Take returns the current window, and moves from Ready to Decided.
// Returns false if the window is not Ready.
func (s *Sliding) Take() (nn.Window, bool, error) {
	if s.state != StateReady {
		return nn.Window{}, false, nil
	}
	// The ring is a power of 2, so it may hold more than N items. The window is the newest N.
	total := s.ring.Len()
	steps := make([]nn.Embedding, s.n)
	for i := 0; i < s.n; i++ {
		steps[i] = s.ring.Peek(total - s.n + i)
	}
	w, err := nn.NewWindow(steps)
	if err != nil {
		return nn.Window{}, false, err
	}
	s.state = StateDecided
	return w, true, nil
}

// Rearm moves from Decided back to Filling, so that another decision can be taken
// after N fresh embeddings. Only used by continuous monitoring of live sources.
func (s *Sliding) Rearm() {
	if s.state == StateDecided {
		s.state = StateFilling
		s.fresh = 0
	}
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
