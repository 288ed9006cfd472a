package nn

// Embedding is the feature vector of a single frame. Always EmbeddingDim long.
type Embedding []float32

// NewEmbedding wraps values, which must be exactly EmbeddingDim long
func NewEmbedding(values []float32) (Embedding, error) {
	if len(values) != EmbeddingDim {
		return nil, NewShapeError("embedding", EmbeddingDim, len(values))
	}
	return Embedding(values), nil
}

// TruncateEmbedding keeps the first EmbeddingDim scalars of a flattened network output.
// The result is a copy, so the caller may reuse raw.
func TruncateEmbedding(raw []float32) (Embedding, error) {
	if len(raw) < EmbeddingDim {
		return nil, NewShapeError("network output", EmbeddingDim, len(raw))
	}
	e := make(Embedding, EmbeddingDim)
	copy(e, raw)
	return e, nil
}

// Window is exactly WindowLength embeddings, oldest first
type Window struct {
	steps []Embedding
}

// NewWindow validates steps and creates a Window.
// The slice is copied, but the embeddings themselves are shared.
func NewWindow(steps []Embedding) (Window, error) {
	if len(steps) != WindowLength {
		return Window{}, NewShapeError("window", WindowLength, len(steps))
	}
	for _, s := range steps {
		if len(s) != EmbeddingDim {
			return Window{}, NewShapeError("window embedding", EmbeddingDim, len(s))
		}
	}
	w := Window{
		steps: make([]Embedding, len(steps)),
	}
	copy(w.steps, steps)
	return w, nil
}

func (w Window) Len() int {
	return len(w.steps)
}

// Return the i-th embedding, where 0 is the oldest
func (w Window) Step(i int) Embedding {
	return w.steps[i]
}

// Returns the sequence as a [time][feature] matrix
func (w Window) Matrix() [][]float32 {
	m := make([][]float32, len(w.steps))
	for i, s := range w.steps {
		m[i] = s
	}
	return m
}
