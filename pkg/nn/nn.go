package nn

import (
	"context"
	"encoding/json"
	"os"

	"github.com/bmharper/cimg/v2"
)

// Package nn is the model interface layer of the violence detection pipeline.
// To load concrete models, use the nnload package.

// Number of scalars in one frame embedding (MobileNetV2 trunk output, truncated)
const EmbeddingDim = 1280

// Number of embeddings in one classifier window
const WindowLength = 10

// Width and height of the feature extractor input
const ExtractorInputSize = 112

// Device that a model runs on
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// FeatureExtractor turns a single RGB frame into an Embedding
type FeatureExtractor interface {
	// Close releases the model, and the worker process behind it, if any.
	Close()

	// Extract returns the embedding of img, which must be a 3 channel RGB image of any size.
	// The image is resized and normalized internally (see Preprocess).
	Extract(ctx context.Context, img *cimg.Image) (Embedding, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the extractor has been created.
	Config() *ModelConfig
}

// SequenceClassifier maps a Window of embeddings to the probability of violence
type SequenceClassifier interface {
	Close()

	// Predict returns a probability in [0,1]
	Predict(ctx context.Context, w Window) (float32, error)

	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model.
// Fields that don't apply to a particular model are left zero.
type ModelConfig struct {
	Architecture   string `json:"architecture"`             // eg "mobilenet_v2" or "lstm"
	Width          int    `json:"width,omitempty"`          // Extractor input width, eg 112
	Height         int    `json:"height,omitempty"`         // Extractor input height, eg 112
	OutputDim      int    `json:"outputDim,omitempty"`      // Extractor embedding size, eg 1280
	InputDim       int    `json:"inputDim,omitempty"`       // Classifier per-step feature size, eg 1280
	HiddenSize     int    `json:"hiddenSize,omitempty"`     // Classifier recurrent state size, eg 64
	NumLayers      int    `json:"numLayers,omitempty"`      // Classifier stacked recurrent layers, eg 2
	SequenceLength int    `json:"sequenceLength,omitempty"` // Classifier window length, eg 10
}

// Default config of the frozen MobileNetV2 feature extractor
func DefaultExtractorConfig() *ModelConfig {
	return &ModelConfig{
		Architecture: "mobilenet_v2",
		Width:        ExtractorInputSize,
		Height:       ExtractorInputSize,
		OutputDim:    EmbeddingDim,
	}
}

// Default config of the LSTM window classifier
func DefaultClassifierConfig() *ModelConfig {
	return &ModelConfig{
		Architecture:   "lstm",
		InputDim:       EmbeddingDim,
		HiddenSize:     64,
		NumLayers:      2,
		SequenceLength: WindowLength,
	}
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}
