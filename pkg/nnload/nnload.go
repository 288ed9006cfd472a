package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to the
// model implementations (the extractor worker process, and the Go LSTM), so that you can
// just call one function to load the models, and not need to know about the details.
//
// This is also the place where we fall back from CUDA to CPU if the GPU can't be used.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/iox"
	"github.com/cyclopcam/rtvd/pkg/lstm"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/nnworker"
)

// File extensions of the two models. The JSON config of each model is optional.
const (
	ExtractorWeightsExt  = ".pt"
	ClassifierWeightsExt = ".safetensors"
	ConfigExt            = ".json"
)

type Options struct {
	ModelDir      string
	Extractor     string    // Base name of the extractor, eg "mobilenet_v2"
	Classifier    string    // Base name of the classifier, eg "lstm_violence"
	Device        nn.Device // Preferred device
	WorkerCommand []string
	WorkerEnv     []string
	DownloadURL   string // Base URL for missing files. Empty means missing files are an error.
	Timeout       time.Duration
}

// Models is the pair of networks that make up the pipeline
type Models struct {
	Extractor  nn.FeatureExtractor
	Classifier nn.SequenceClassifier
	Device     nn.Device // Device that the extractor actually runs on
}

func (m *Models) Close() {
	if m.Extractor != nil {
		m.Extractor.Close()
	}
	if m.Classifier != nil {
		m.Classifier.Close()
	}
}

func downloadFile(ctx context.Context, srcUrl, targetFile string) error {
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", srcUrl, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	_, err = iox.WriteStreamToFile(targetFile, resp.Body, 0)
	return err
}

// If the model files are not yet downloaded, then download them now.
// Returns immediately if the files are already present.
// Files in 'optional' are not an error if they are missing and can't be downloaded.
func DownloadModel(ctx context.Context, log logs.Log, baseUrl, modelDir, modelName string, required, optional []string) error {
	fetch := func(ext string, isRequired bool) error {
		diskPath := filepath.Join(modelDir, modelName+ext)
		if _, err := os.Stat(diskPath); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
		if baseUrl == "" {
			if isRequired {
				return fmt.Errorf("Model file %v not found, and no download URL is configured", diskPath)
			}
			return nil
		}
		networkUrl := strings.TrimSuffix(baseUrl, "/") + "/" + modelName + ext
		log.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(ctx, networkUrl, diskPath); err != nil {
			if isRequired {
				return fmt.Errorf("Download of %v failed: %w", networkUrl, err)
			}
			log.Infof("Optional file %v not available: %v", networkUrl, err)
		}
		return nil
	}
	for _, ext := range required {
		if err := fetch(ext, true); err != nil {
			return err
		}
	}
	for _, ext := range optional {
		if err := fetch(ext, false); err != nil {
			return err
		}
	}
	return nil
}

// Load the model config from a JSON file if it exists, otherwise use the default
func loadConfigOrDefault(filename string, def *nn.ModelConfig) (*nn.ModelConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return def, nil
	}
	return nn.LoadModelConfig(filename)
}

// LoadClassifier loads the LSTM window classifier
func LoadClassifier(ctx context.Context, log logs.Log, opts Options) (*lstm.Classifier, error) {
	if err := DownloadModel(ctx, log, opts.DownloadURL, opts.ModelDir, opts.Classifier, []string{ClassifierWeightsExt}, []string{ConfigExt}); err != nil {
		return nil, err
	}
	base := filepath.Join(opts.ModelDir, opts.Classifier)
	config, err := loadConfigOrDefault(base+ConfigExt, nn.DefaultClassifierConfig())
	if err != nil {
		return nil, err
	}
	if config.InputDim != nn.EmbeddingDim {
		return nil, nn.NewShapeError("classifier input", nn.EmbeddingDim, config.InputDim)
	}
	tensors, err := lstm.LoadSafetensors(base + ClassifierWeightsExt)
	if err != nil {
		return nil, fmt.Errorf("Failed to load classifier weights: %w", err)
	}
	return lstm.New(config, tensors)
}

// LoadExtractor starts the extractor worker. If the preferred device is CUDA and the worker
// fails to start on it, then we try again on the CPU.
func LoadExtractor(ctx context.Context, log logs.Log, opts Options) (*nnworker.Worker, error) {
	if err := DownloadModel(ctx, log, opts.DownloadURL, opts.ModelDir, opts.Extractor, nil, []string{ExtractorWeightsExt, ConfigExt}); err != nil {
		return nil, err
	}
	base := filepath.Join(opts.ModelDir, opts.Extractor)
	// An empty model path tells the worker to use the stock ImageNet weights
	weights := base + ExtractorWeightsExt
	if _, err := os.Stat(weights); os.IsNotExist(err) {
		log.Infof("%v not found, extractor will use pretrained ImageNet weights", weights)
		weights = ""
	}
	config, err := loadConfigOrDefault(base+ConfigExt, nn.DefaultExtractorConfig())
	if err != nil {
		return nil, err
	}
	device := opts.Device
	if device == "" {
		device = nn.DeviceCPU
	}
	workerOpts := nnworker.Options{
		Command: opts.WorkerCommand,
		Env:     opts.WorkerEnv,
		Model:   weights,
		Device:  device,
		Timeout: opts.Timeout,
		Config:  config,
	}
	w, err := nnworker.Start(log, workerOpts)
	if err == nil || device == nn.DeviceCPU {
		return w, err
	}
	log.Warnf("Failed to load extractor on %v: %v", device, err)
	log.Infof("Falling back to %v", nn.DeviceCPU)
	workerOpts.Device = nn.DeviceCPU
	return nnworker.Start(log, workerOpts)
}

// LoadInferenceModels loads both networks. Call Models.Close when done.
func LoadInferenceModels(ctx context.Context, log logs.Log, opts Options) (*Models, error) {
	classifier, err := LoadClassifier(ctx, log, opts)
	if err != nil {
		return nil, fmt.Errorf("Failed to load classifier '%v': %w", opts.Classifier, err)
	}
	extractor, err := LoadExtractor(ctx, log, opts)
	if err != nil {
		classifier.Close()
		return nil, fmt.Errorf("Failed to load extractor '%v': %w", opts.Extractor, err)
	}
	log.Infof("Models loaded (extractor on %v)", extractor.Device())
	return &Models{
		Extractor:  extractor,
		Classifier: classifier,
		Device:     extractor.Device(),
	}, nil
}
