package nn

import (
	"errors"
	"fmt"
)

// A frame could not be read or converted. Aborts processing of the current video.
var ErrDecode = errors.New("Frame decode failed")

// A tensor had the wrong size. Aborts processing of the current video.
var ErrShape = errors.New("Shape mismatch")

// Fewer frames than the window length. This is a normal outcome, not a failure.
var ErrInsufficientData = errors.New("Not enough frames for prediction")

// Inputs to a computation are inconsistent (eg label sequences of different length)
var ErrPrecondition = errors.New("Precondition failed")

// ShapeError matches ErrShape with errors.Is
type ShapeError struct {
	What     string // eg "embedding"
	Expected int
	Actual   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("Shape mismatch: %v has size %v, expected %v", e.What, e.Actual, e.Expected)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

func NewShapeError(what string, expected, actual int) *ShapeError {
	return &ShapeError{
		What:     what,
		Expected: expected,
		Actual:   actual,
	}
}
