package stats

import "math"

type Number interface {
	~float32 | ~float64 | ~int | ~int32 | ~int64
}

// Returns (mean, variance) of the given samples.
func MeanVar[T Number](samples []T) (float64, float64) {
	mean := Mean(samples)
	variance := Variance(samples, mean)
	return mean, variance
}

// Returns the mean of the given samples, or 0 if there are none.
func Mean[T Number](samples []T) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// Returns the population variance of the given samples, or 0 if there are none.
func Variance[T Number](samples []T, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		diff := float64(v) - mean
		sum += diff * diff
	}
	return sum / float64(len(samples))
}

// Summary describes a distribution of scores, such as classifier probabilities
type Summary struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func Summarize[T Number](samples []T) Summary {
	s := Summary{N: len(samples)}
	if len(samples) == 0 {
		return s
	}
	mean, variance := MeanVar(samples)
	s.Mean = mean
	s.Std = math.Sqrt(variance)
	s.Min = float64(samples[0])
	s.Max = float64(samples[0])
	for _, v := range samples[1:] {
		s.Min = min(s.Min, float64(v))
		s.Max = max(s.Max, float64(v))
	}
	return s
}
