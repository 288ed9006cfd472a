package window

import (
	"math"

	"github.com/cyclopcam/rtvd/pkg/nn"
)

// UniformIndices returns n indices spread evenly over [0, m-1], including both ends.
// Index k is round(k*(m-1)/(n-1)). The result is non-decreasing.
// Requires m >= n >= 1.
func UniformIndices(m, n int) []int {
	idx := make([]int, n)
	if n == 1 {
		return idx
	}
	for k := 0; k < n; k++ {
		idx[k] = int(math.Round(float64(k*(m-1)) / float64(n-1)))
	}
	return idx
}

// UniformSample picks n embeddings evenly spaced over the whole video.
// If there are fewer than n embeddings, returns nn.ErrInsufficientData.
func UniformSample(embeddings []nn.Embedding, n int) (nn.Window, error) {
	if len(embeddings) < n {
		return nn.Window{}, nn.ErrInsufficientData
	}
	steps := make([]nn.Embedding, n)
	for k, i := range UniformIndices(len(embeddings), n) {
		steps[k] = embeddings[i]
	}
	return nn.NewWindow(steps)
}
