package server

import (
	"context"
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/hog"
	"github.com/cyclopcam/rtvd/pkg/nnload"
	"github.com/cyclopcam/rtvd/pkg/storage"
	"github.com/cyclopcam/rtvd/server/alarm"
	"github.com/cyclopcam/rtvd/server/config"
	"github.com/cyclopcam/rtvd/server/metrics"
	"github.com/cyclopcam/rtvd/server/monitor"
)

// ModelOptions translates the models section of the config for nnload
func ModelOptions(cfg *config.Config) nnload.Options {
	return nnload.Options{
		ModelDir:      cfg.Models.Dir,
		Extractor:     cfg.Models.Extractor,
		Classifier:    cfg.Models.Classifier,
		Device:        cfg.Models.Device,
		WorkerCommand: cfg.Models.WorkerCommand,
		DownloadURL:   cfg.Models.DownloadURL,
		Timeout:       cfg.Models.Timeout(),
	}
}

// LoadInferenceContext loads both models. Close the result when done.
func LoadInferenceContext(ctx context.Context, log logs.Log, cfg *config.Config, m *metrics.Metrics) (*monitor.InferenceContext, error) {
	models, err := nnload.LoadInferenceModels(ctx, log, ModelOptions(cfg))
	if err != nil {
		return nil, err
	}
	return monitor.NewInferenceContext(log, models, m), nil
}

// OpenAlarm creates the alert sink described by the alert section of the config.
// The returned function releases the people detector and the storage client.
func OpenAlarm(ctx context.Context, log logs.Log, cfg *config.Config, m *metrics.Metrics) (*alarm.Alarm, func(), error) {
	store, err := storage.Open(ctx, log, cfg.Alert.Storage, cfg.Alert.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("Failed to open alert storage: %w", err)
	}
	log.Infof("Alert frames are saved to %v", store.Location(""))

	closers := []func(){}
	if c, ok := store.(interface{ Close() error }); ok {
		closers = append(closers, func() { c.Close() })
	}

	opts := alarm.Options{
		Storage:       store,
		ArtifactName:  cfg.Alert.ArtifactName,
		JPEGQuality:   cfg.Alert.JPEGQuality,
		SirenFile:     cfg.Alert.SirenFile,
		PlayerCommand: cfg.Alert.PlayerCommand,
	}
	if cfg.Alert.DetectPeople {
		detector, err := hog.NewDetector(hog.DefaultParams())
		if err != nil {
			// Alerts still work without the overlay
			log.Warnf("People detector unavailable: %v", err)
		} else {
			opts.Detector = detector
			closers = append(closers, detector.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return alarm.NewAlarm(log, m, opts), closeAll, nil
}
