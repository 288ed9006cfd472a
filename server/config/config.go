package config

// Package config loads the settings of the rtvd server and command line tools.
// Settings come from a JSON file, and may be overridden by RTVD_* environment
// variables, which in turn may be loaded from a .env file.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/rtvd/pkg/kibi"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/storage"
	"github.com/cyclopcam/rtvd/pkg/videosrc"
	"github.com/joho/godotenv"
)

const DefaultFilename = "rtvd.json"

type Models struct {
	Dir           string    `json:"dir"`           // Directory holding the model files
	Extractor     string    `json:"extractor"`     // Base name of the extractor model, eg "mobilenet_v2"
	Classifier    string    `json:"classifier"`    // Base name of the classifier, eg "lstm_violence"
	Device        nn.Device `json:"device"`        // cuda or cpu. cuda falls back to cpu if unavailable.
	WorkerCommand []string  `json:"workerCommand"` // Command line of the extractor worker, eg ["python3", "models/extractor_worker.py"]
	DownloadURL   string    `json:"downloadURL"`   // Base URL for fetching missing model files. Empty to disable.
	TimeoutMS     int       `json:"timeoutMS"`     // Timeout for a single embedding request
}

func (m *Models) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

type Thresholds struct {
	Snapshot  float32 `json:"snapshot"`
	Streaming float32 `json:"streaming"`
}

type Alert struct {
	Storage       storage.Kind `json:"storage"`       // fs or gcs
	Root          string       `json:"root"`          // Directory for fs, or bucket name for gcs
	ArtifactName  string       `json:"artifactName"`  // eg "alert-{id}.jpg"
	JPEGQuality   int          `json:"jpegQuality"`   // 1..100
	DetectPeople  bool         `json:"detectPeople"`  // Run the HOG person detector on alert frames
	SirenFile     string       `json:"sirenFile"`     // Audio file played on alert. Empty to disable.
	PlayerCommand []string     `json:"playerCommand"` // Audio player, eg ["ffplay", "-nodisp", "-autoexit"]
}

type HTTP struct {
	Listen          string `json:"listen"`          // eg ":8090"
	RateLimit       int    `json:"rateLimit"`       // Max analysis requests per RateLimitWindow, per IP
	RateLimitWindow int    `json:"rateLimitWindow"` // Seconds
	MaxUpload       string `json:"maxUpload"` // Largest uploaded video, eg "512MB"
	UploadDir       string `json:"uploadDir"` // Uploads are stored here while they are analyzed. Wiped at startup.
}

// Returns the upload limit in bytes
func (h *HTTP) MaxUploadBytes() int64 {
	n, _ := kibi.ParseBytes(h.MaxUpload)
	return n
}

type Config struct {
	Models       Models           `json:"models"`
	Thresholds   Thresholds       `json:"thresholds"`
	VideoBackend videosrc.Backend `json:"videoBackend"` // opencv or ffmpeg
	Alert        Alert            `json:"alert"`
	HTTP         HTTP             `json:"http"`
}

func Default() *Config {
	return &Config{
		Models: Models{
			Dir:           "models",
			Extractor:     "mobilenet_v2",
			Classifier:    "lstm_violence",
			Device:        nn.DeviceCUDA,
			WorkerCommand: []string{"python3", "models/extractor_worker.py"},
			TimeoutMS:     10000,
		},
		Thresholds: Thresholds{
			Snapshot:  nn.ThresholdSnapshot,
			Streaming: nn.ThresholdRecall,
		},
		VideoBackend: videosrc.BackendOpenCV,
		Alert: Alert{
			Storage:       storage.KindFilesystem,
			Root:          "alerts",
			ArtifactName:  "alert-{id}.jpg",
			JPEGQuality:   90,
			DetectPeople:  true,
			SirenFile:     "siren.mp3",
			PlayerCommand: []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
		},
		HTTP: HTTP{
			Listen:          ":8090",
			RateLimit:       10,
			RateLimitWindow: 60,
			MaxUpload:       "512MB",
		},
	}
}

// LoadConfig reads filename on top of the defaults, and then applies environment overrides.
// If filename is empty, DefaultFilename is used, and it's not an error for it to be missing.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	optional := filename == ""
	if filename == "" {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		if !(optional && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
	} else if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}

	// A missing .env is normal
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from RTVD_* variables
func (c *Config) ApplyEnv(lookup func(key string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%v: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	threshold := func(key string, dst *float32) error {
		if v, ok := lookup(key); ok && v != "" {
			t, err := nn.ParseThreshold(v)
			if err != nil {
				return fmt.Errorf("%v: %w", key, err)
			}
			*dst = t
		}
		return nil
	}

	str("RTVD_MODELS_DIR", &c.Models.Dir)
	str("RTVD_MODELS_URL", &c.Models.DownloadURL)
	if v, ok := lookup("RTVD_DEVICE"); ok && v != "" {
		c.Models.Device = nn.Device(strings.ToLower(v))
	}
	if v, ok := lookup("RTVD_WORKER"); ok && v != "" {
		c.Models.WorkerCommand = strings.Fields(v)
	}
	if v, ok := lookup("RTVD_VIDEO_BACKEND"); ok && v != "" {
		b, err := videosrc.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("RTVD_VIDEO_BACKEND: %w", err)
		}
		c.VideoBackend = b
	}
	if v, ok := lookup("RTVD_ALERT_STORAGE"); ok && v != "" {
		c.Alert.Storage = storage.Kind(strings.ToLower(v))
	}
	str("RTVD_ALERT_ROOT", &c.Alert.Root)
	str("RTVD_SIREN", &c.Alert.SirenFile)
	str("RTVD_LISTEN", &c.HTTP.Listen)
	str("RTVD_MAX_UPLOAD", &c.HTTP.MaxUpload)
	if err := num("RTVD_RATE_LIMIT", &c.HTTP.RateLimit); err != nil {
		return err
	}
	if err := threshold("RTVD_THRESHOLD_SNAPSHOT", &c.Thresholds.Snapshot); err != nil {
		return err
	}
	if err := threshold("RTVD_THRESHOLD_STREAMING", &c.Thresholds.Streaming); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Models.Device {
	case nn.DeviceCPU, nn.DeviceCUDA:
	default:
		return fmt.Errorf("Unknown device '%v'", c.Models.Device)
	}
	// Store the canonical name, because videosrc.Open matches it exactly
	backend, err := videosrc.ParseBackend(string(c.VideoBackend))
	if err != nil {
		return err
	}
	c.VideoBackend = backend
	for _, t := range []float32{c.Thresholds.Snapshot, c.Thresholds.Streaming} {
		if t < 0 || t > 1 {
			return fmt.Errorf("Threshold %v is outside of [0,1]", t)
		}
	}
	if len(c.Models.WorkerCommand) == 0 {
		return fmt.Errorf("models.workerCommand is empty")
	}
	if c.Alert.JPEGQuality < 1 || c.Alert.JPEGQuality > 100 {
		return fmt.Errorf("alert.jpegQuality must be between 1 and 100")
	}
	if n, err := kibi.ParseBytes(c.HTTP.MaxUpload); err != nil || n <= 0 {
		return fmt.Errorf("Invalid http.maxUpload '%v'", c.HTTP.MaxUpload)
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateLimitWindow <= 0 {
		return fmt.Errorf("http.rateLimit and http.rateLimitWindow must be positive")
	}
	return nil
}
