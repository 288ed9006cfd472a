package monitor

// Package monitor runs the violence detection pipeline over a video:
// frames are decoded, turned into embeddings, gathered into a window,
// classified, and a decision is made and acted upon.

import (
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/nnload"
	"github.com/cyclopcam/rtvd/server/metrics"
)

// InferenceContext holds the loaded models.
// It is created once at startup (see NewInferenceContext) and passed to every pipeline run.
// A single InferenceContext must not be used by more than one pipeline at a time.
type InferenceContext struct {
	Log        logs.Log
	Extractor  nn.FeatureExtractor
	Classifier nn.SequenceClassifier
	Device     nn.Device
	Metrics    *metrics.Metrics // May be nil
}

// NewInferenceContext takes ownership of models
func NewInferenceContext(log logs.Log, models *nnload.Models, m *metrics.Metrics) *InferenceContext {
	return &InferenceContext{
		Log:        log,
		Extractor:  models.Extractor,
		Classifier: models.Classifier,
		Device:     models.Device,
		Metrics:    m,
	}
}

// Close releases both models
func (ic *InferenceContext) Close() {
	if ic.Extractor != nil {
		ic.Extractor.Close()
	}
	if ic.Classifier != nil {
		ic.Classifier.Close()
	}
}
