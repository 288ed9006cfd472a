package nn

import (
	"fmt"
	"strconv"
	"strings"
)

// Threshold for an interactive snapshot alert
const ThresholdSnapshot = 0.5

// Threshold for evaluation and streaming, where recall matters more than precision
const ThresholdRecall = 0.2

type Label int

const (
	LabelNonViolent Label = 0
	LabelViolent    Label = 1
)

func (l Label) String() string {
	if l == LabelViolent {
		return "Violent"
	}
	return "Non-Violent"
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	lb, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = lb
	return nil
}

// ParseLabel accepts "Violent", "Non-Violent", "1" or "0" (case insensitive)
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "violent", "violence", "1":
		return LabelViolent, nil
	case "non-violent", "nonviolent", "non-violence", "0":
		return LabelNonViolent, nil
	}
	return LabelNonViolent, fmt.Errorf("Invalid label '%v'", s)
}

// Decision is the outcome of one classifier window
type Decision struct {
	Probability float32 `json:"probability"`
	Threshold   float32 `json:"threshold"`
	Label       Label   `json:"label"`
}

// Decide returns Violent iff probability is strictly greater than threshold
func Decide(probability, threshold float32) Label {
	if probability > threshold {
		return LabelViolent
	}
	return LabelNonViolent
}

func MakeDecision(probability, threshold float32) Decision {
	return Decision{
		Probability: probability,
		Threshold:   threshold,
		Label:       Decide(probability, threshold),
	}
}

// ParseThreshold accepts a preset name ("snapshot", "recall", "streaming", "evaluation")
// or a number between 0 and 1.
func ParseThreshold(s string) (float32, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snapshot":
		return ThresholdSnapshot, nil
	case "recall", "streaming", "evaluation":
		return ThresholdRecall, nil
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("Invalid threshold '%v'", s)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("Threshold %v is outside of [0,1]", f)
	}
	return float32(f), nil
}
