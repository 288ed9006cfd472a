package alarm

// Package alarm acts on Violent decisions: it saves an annotated picture of the
// scene and plays an audible siren. Nothing that goes wrong here is reported back
// to the pipeline. Failures are logged and counted.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/rtvd/pkg/nn"
	"github.com/cyclopcam/rtvd/pkg/shell"
	"github.com/cyclopcam/rtvd/pkg/storage"
	"github.com/cyclopcam/rtvd/server/metrics"
	"github.com/cyclopcam/rtvd/server/monitor"
	"github.com/cyclopcam/rtvd/server/util"
	"github.com/google/uuid"
)

// PeopleDetector finds people in a frame, so that they can be outlined.
// hog.Detector is the standard implementation.
type PeopleDetector interface {
	DetectPeople(img *cimg.Image) ([]nn.PersonDetection, error)
}

const DefaultArtifactName = "alert-{id}.jpg"

// Maximum number of alerts remembered by Recent()
const maxRecent = 100

type Options struct {
	Storage       storage.Storage // Where the annotated frame is written. If nil, no image is saved.
	ArtifactName  string          // "{id}" is replaced by a unique ID. Default is DefaultArtifactName.
	JPEGQuality   int             // Default 90
	Detector      PeopleDetector  // If nil, no people boxes are drawn
	SirenFile     string          // Audio file. Empty disables the siren.
	PlayerCommand []string        // Program that plays SirenFile, eg ["ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"]
}

// Record describes an alert that was raised
type Record struct {
	ID          string      `json:"id"`
	Time        time.Time   `json:"time"`
	Video       string      `json:"video"`
	Decision    nn.Decision `json:"decision"`
	FrameIndex  int         `json:"frameIndex"`
	NumPeople   int         `json:"numPeople"`
	Artifact    string      `json:"artifact,omitempty"` // Location of the annotated image, if it was saved
	SirenPlayed bool        `json:"sirenPlayed"`

	imageName string // Name of the annotated image in storage
}

// No alert with that ID, or it has no saved image
var ErrNotFound = errors.New("Alert not found")

// Alarm implements monitor.AlertSink
type Alarm struct {
	log     logs.Log
	opts    Options
	metrics *metrics.Metrics

	lock   sync.Mutex
	recent []Record
}

var _ monitor.AlertSink = (*Alarm)(nil)

func NewAlarm(log logs.Log, m *metrics.Metrics, opts Options) *Alarm {
	if opts.ArtifactName == "" {
		opts.ArtifactName = DefaultArtifactName
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 90
	}
	return &Alarm{
		log:     log,
		opts:    opts,
		metrics: m,
	}
}

func (a *Alarm) Alert(ctx context.Context, ev monitor.AlertEvent) {
	rec := Record{
		ID:         uuid.NewString(),
		Time:       time.Now(),
		Video:      ev.Video,
		Decision:   ev.Decision,
		FrameIndex: ev.FrameIndex,
	}
	a.log.Warnf("ALERT: Violence detected in %v (probability %.4f)", ev.Video, ev.Decision.Probability)
	a.metrics.Alert()

	if ev.Frame == nil {
		a.log.Errorf("Alert for %v has no frame", ev.Video)
		a.metrics.AlertFailure("frame")
	} else if a.opts.Storage != nil {
		rec.imageName, rec.NumPeople = a.saveFrame(ctx, rec.ID, ev)
		if rec.imageName != "" {
			rec.Artifact = a.opts.Storage.Location(rec.imageName)
		}
	}
	rec.SirenPlayed = a.playSiren()

	a.lock.Lock()
	a.recent = append(a.recent, rec)
	if len(a.recent) > maxRecent {
		a.recent = a.recent[len(a.recent)-maxRecent:]
	}
	a.lock.Unlock()
}

// Returns the storage name of the saved image (or empty), and the number of people found
func (a *Alarm) saveFrame(ctx context.Context, id string, ev monitor.AlertEvent) (string, int) {
	var people []nn.PersonDetection
	if a.opts.Detector != nil {
		var err error
		people, err = a.opts.Detector.DetectPeople(ev.Frame)
		if err != nil {
			a.log.Errorf("People detection failed: %v", err)
			a.metrics.AlertFailure("detect")
			people = nil
		}
	}
	annotated := Annotate(ev.Frame, people, ev.Decision.Label)
	jpg, err := cimg.Compress(annotated, cimg.MakeCompressParams(cimg.Sampling420, a.opts.JPEGQuality, cimg.Flags(0)))
	if err != nil {
		a.log.Errorf("Failed to encode alert frame: %v", err)
		a.metrics.AlertFailure("encode")
		return "", len(people)
	}
	name := strings.ReplaceAll(a.opts.ArtifactName, "{id}", id)
	if err := storage.WriteFile(ctx, a.opts.Storage, name, bytes.NewReader(jpg)); err != nil {
		a.log.Errorf("Failed to save alert frame %v: %v", name, err)
		a.metrics.AlertFailure("store")
		return "", len(people)
	}
	a.log.Infof("Alert frame saved to %v (%v people)", a.opts.Storage.Location(name), len(people))
	return name, len(people)
}

func (a *Alarm) playSiren() bool {
	if a.opts.SirenFile == "" {
		return false
	}
	if len(a.opts.PlayerCommand) == 0 {
		a.log.Warnf("No audio player configured, so siren is not played")
		a.metrics.AlertFailure("audio")
		return false
	}
	if _, err := os.Stat(a.opts.SirenFile); err != nil {
		a.log.Errorf("Siren audio file is not available: %v", err)
		a.metrics.AlertFailure("audio")
		return false
	}
	args := append(append([]string{}, a.opts.PlayerCommand[1:]...), a.opts.SirenFile)
	if err := shell.Start(a.log, a.opts.PlayerCommand[0], args...); err != nil {
		a.log.Errorf("Failed to play siren: %v", err)
		a.metrics.AlertFailure("audio")
		return false
	}
	return true
}

// Recent returns the most recent alerts, oldest first
func (a *Alarm) Recent() []Record {
	a.lock.Lock()
	defer a.lock.Unlock()
	return util.CopySlice(a.recent)
}

func (a *Alarm) find(id string) (Record, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for _, r := range a.recent {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Image returns the annotated JPEG of a recent alert
func (a *Alarm) Image(ctx context.Context, id string) ([]byte, error) {
	rec, ok := a.find(id)
	if !ok || rec.imageName == "" {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return storage.ReadFile(ctx, a.opts.Storage, rec.imageName)
}

// Delete forgets a recent alert, and deletes its image
func (a *Alarm) Delete(ctx context.Context, id string) error {
	a.lock.Lock()
	idx := -1
	for i, r := range a.recent {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		a.lock.Unlock()
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	rec := a.recent[idx]
	a.recent = append(a.recent[:idx], a.recent[idx+1:]...)
	a.lock.Unlock()

	if rec.imageName == "" {
		return nil
	}
	if err := a.opts.Storage.DeleteFile(ctx, rec.imageName); err != nil {
		return fmt.Errorf("Failed to delete %v: %w", rec.imageName, err)
	}
	return nil
}
